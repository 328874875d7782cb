package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"
)

// Subscriber buffer for the audit tail. A consumer that falls this far
// behind is dropped rather than allowed to stall the ledger fanout.
const auditStreamBuffer = 64

// auditWriteTimeout bounds each WebSocket write so one stuck client cannot
// pin the streaming goroutine.
const auditWriteTimeout = 10 * time.Second

// handleAuditStream upgrades to WebSocket and tails the audit stream. Each
// CallLogEntry appended to the ledger is pushed as one JSON message. The
// stream is live-only; it does not replay history from the JSONL file.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("audit stream: websocket accept failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	entries := s.ledger.Subscribe(auditStreamBuffer)
	defer s.ledger.Unsubscribe(entries)

	// Reads are discarded; the read loop only notices client disconnect and
	// cancels the context.
	ctx := conn.CloseRead(r.Context())

	log.Debug().Str("remote", r.RemoteAddr).Msg("audit stream: consumer connected")

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				// Ledger closed or this consumer was dropped as too slow.
				_ = conn.Close(websocket.StatusTryAgainLater, "stream closed")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
			err := wsjson.Write(writeCtx, conn, entry)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("audit stream: write failed, closing")
				return
			}
		}
	}
}
