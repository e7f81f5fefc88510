package main

import (
	"fmt"
	"os"

	"github.com/gowvp/skylapse/internal/app"
)

// buildVersion 编译时通过 -ldflags "-X main.buildVersion=v1.0.0" 注入
var buildVersion = "0.0.1"

func main() {
	if err := app.NewRootCmd(buildVersion).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
