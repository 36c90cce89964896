package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/pkg/requestcontext"
)

const streamWriteTimeout = 5 * time.Second

// handleEvents upgrades to a websocket and streams consentChanged envelopes
// for the caller's visitor id. The current state is sent first. A client
// that falls behind by more than the stream buffer is disconnected rather
// than slowing the publisher.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return
	}
	defer func() {
		_ = conn.CloseNow()
	}()

	// Nothing is read from the client; CloseRead cancels ctx when it goes away.
	ctx := conn.CloseRead(r.Context())

	queue := make(chan models.Envelope, h.streamBuffer)
	overflow := make(chan struct{})
	var (
		overflowed atomic.Bool
		once       sync.Once
	)
	unsubscribe := h.consent.Subscribe(func(event models.Event) {
		if event.VisitorID != subject.VisitorID || overflowed.Load() {
			return
		}
		select {
		case queue <- event.Envelope():
		default:
			overflowed.Store(true)
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	initial := h.consent.Status(ctx, subject)
	if err := h.write(ctx, conn, initial.Event(time.Now()).Envelope()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-overflow:
			_ = conn.Close(websocket.StatusPolicyViolation, "backpressure")
			return
		case env := <-queue:
			if err := h.write(ctx, conn, env); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.DebugContext(ctx, "event stream write failed", "error", err)
				}
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, env models.Envelope) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, env)
}
