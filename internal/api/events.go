package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	logx "wablast/pkg/logx"
)

const ssePingInterval = 30 * time.Second

// events streams hub events to the client as server-sent events. The
// subscription is torn down when the client disconnects; late joiners get no
// replay and should resynchronize via /api/message-status.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	ch, unsub := s.hub.Subscribe(64)
	defer unsub()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			// Comment frame keeps intermediaries from timing the stream out
			// and surfaces dead connections via the write error.
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			fl.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Warn("event marshal failed", logx.String("event", ev.Type), logx.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			fl.Flush()
		}
	}
}
