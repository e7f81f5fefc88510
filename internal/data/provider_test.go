package data

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDialector(t *testing.T) {
	cases := []struct {
		dsn    string
		name   string
		sqlite bool
	}{
		{dsn: "postgres://u:p@localhost:5432/skylapse", name: "postgres"},
		{dsn: "mysql://u:p@tcp(localhost:3306)/skylapse", name: "mysql"},
		{dsn: t.TempDir() + "/data.db", name: "sqlite", sqlite: true},
	}
	for _, tc := range cases {
		dial, isSQLite := getDialector(tc.dsn)
		require.Equal(t, tc.name, dial.Name(), tc.dsn)
		require.Equal(t, tc.sqlite, isSQLite)
	}
}
