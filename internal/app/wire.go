//go:build wireinject

package app

import (
	"net/http"

	"github.com/google/wire"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/data"
	"github.com/gowvp/skylapse/internal/web/api"
)

func wireApp(bc *conf.Bootstrap) (http.Handler, func(), error) {
	panic(wire.Build(data.ProviderSet, api.ProviderSet))
}

func wireEngine(bc *conf.Bootstrap) (*Engine, func(), error) {
	panic(wire.Build(data.ProviderSet, api.ProviderSet, wire.Struct(new(Engine), "*")))
}
