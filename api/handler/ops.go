package handler

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/fastygo/storecore/internal/events"
	"github.com/fastygo/storecore/pkg/httpcontext"
)

// StatsSource is satisfied by *events.Dispatcher.
type StatsSource interface {
	Stats() events.Stats
}

// DeadLetterQueue is satisfied by *services.RetryProcessor.
type DeadLetterQueue interface {
	Size() int
	Drain(ctx context.Context) error
}

// OpsHandler exposes dispatcher counters and the dead-letter queue.
type OpsHandler struct {
	baseHandler
	dispatcher  StatsSource
	deadLetters DeadLetterQueue
}

func NewOpsHandler(dispatcher StatsSource, deadLetters DeadLetterQueue, adapter *httpcontext.Adapter, logger *zap.Logger) *OpsHandler {
	return &OpsHandler{
		baseHandler: newBaseHandler(adapter, logger),
		dispatcher:  dispatcher,
		deadLetters: deadLetters,
	}
}

type statsResponse struct {
	Dispatcher  events.Stats `json:"dispatcher"`
	DeadLetters int          `json:"dead_letters"`
}

// @Summary Dispatcher and dead-letter counters
// @Tags ops
// @Router /stats [get]
func (h *OpsHandler) Stats(ctx *fasthttp.RequestCtx) {
	resp := statsResponse{Dispatcher: h.dispatcher.Stats()}
	if h.deadLetters != nil {
		resp.DeadLetters = h.deadLetters.Size()
	}
	h.respondSuccess(ctx, http.StatusOK, resp)
}

// @Summary Redeliver buffered dead letters now
// @Tags ops
// @Router /dead-letters/drain [post]
func (h *OpsHandler) Drain(ctx *fasthttp.RequestCtx) {
	if h.deadLetters == nil {
		h.respondSuccess(ctx, http.StatusOK, map[string]int{"remaining": 0})
		return
	}
	reqCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.deadLetters.Drain(reqCtx); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]int{"remaining": h.deadLetters.Size()})
}

// NewMetricsHandler serves the Prometheus text format for gatherer.
func NewMetricsHandler(gatherer prometheus.Gatherer) fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
