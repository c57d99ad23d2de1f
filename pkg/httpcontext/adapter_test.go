package httpcontext

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/storecore/pkg/logger"
)

func newCtx(requestID string) *fasthttp.RequestCtx {
	var req fasthttp.Request
	req.SetRequestURI("/stats")
	if requestID != "" {
		req.Header.Set(HeaderRequestID, requestID)
	}
	req.Header.SetUserAgent("probe/1.0")
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func TestAttachPropagatesIDs(t *testing.T) {
	reqCtx := newCtx("req-42")
	ctx, cancel := NewAdapter(time.Second).Attach(reqCtx)
	defer cancel()

	assert.Equal(t, "req-42", string(reqCtx.Response.Header.Peek(HeaderRequestID)))
	opID := appLogger.OperationID(ctx)
	assert.NotEmpty(t, opID)
	assert.Equal(t, opID, string(reqCtx.Response.Header.Peek(HeaderOperationID)))
	assert.Equal(t, "probe/1.0", ctx.Value(KeyUserAgent))

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)
}

func TestAttachReplacesUnusableRequestIDs(t *testing.T) {
	for _, id := range []string{"", "   ", strings.Repeat("x", maxRequestIDLen+1)} {
		reqCtx := newCtx(id)
		_, cancel := NewAdapter(0).Attach(reqCtx)
		cancel()

		got := string(reqCtx.Response.Header.Peek(HeaderRequestID))
		assert.Len(t, got, 36, "expected a generated uuid for %q", id)
	}
}
