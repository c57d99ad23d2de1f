package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/storecore/api/handler"
)

type Handlers struct {
	Health  *apiHandler.HealthHandler
	Ops     *apiHandler.OpsHandler
	Metrics fasthttp.RequestHandler
}

func New(handlers Handlers) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	r.GET("/stats", handlers.Ops.Stats)
	r.POST("/dead-letters/drain", handlers.Ops.Drain)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	return r
}
