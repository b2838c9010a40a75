package handler

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/planner/domain"
	"github.com/fastygo/planner/pkg/httpcontext"
)

// ChangeFeed hands out per-scope invalidation subscriptions.
type ChangeFeed interface {
	Subscribe(scope string, bufSize int) (<-chan domain.Change, func())
}

type ChangesHandler struct {
	baseHandler
	feed      ChangeFeed
	heartbeat time.Duration
}

func NewChangesHandler(feed ChangeFeed, heartbeat time.Duration, adapter *httpcontext.Adapter, logger *zap.Logger) *ChangesHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &ChangesHandler{
		baseHandler: newBaseHandler(adapter, logger),
		feed:        feed,
		heartbeat:   heartbeat,
	}
}

// Stream writes the scope's change signals as server-sent events until the client goes away.
// @Summary Change stream
// @Tags changes
// @Router /api/v1/changes [get]
func (h *ChangesHandler) Stream(ctx *fasthttp.RequestCtx) {
	scope := h.scope(ctx)
	if scope == "" {
		return
	}

	changes, unsubscribe := h.feed.Subscribe(scope, 0)
	logger := h.logger.With(zap.String("scope", scope))
	heartbeat := h.heartbeat

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		if _, err := w.WriteString(": connected\n\n"); err != nil || w.Flush() != nil {
			return
		}
		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				if err := writeChange(w, change); err != nil {
					logger.Debug("change stream closed", zap.Error(err))
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

func writeChange(w *bufio.Writer, change domain.Change) error {
	body, err := json.Marshal(change)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", change.ID, change.Kind, body); err != nil {
		return err
	}
	return w.Flush()
}
