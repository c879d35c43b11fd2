package api

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleEvents streams cycle summaries over a WebSocket. Each client
// gets its own subscription; a slow client misses summaries rather than
// blocking the agent loop.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // accept any Origin for dev convenience
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	s.logger.Info("event stream connected", "remote", r.RemoteAddr)

	sub := s.agent.Subscribe()
	defer s.agent.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case summary, ok := <-sub:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, summary); err != nil {
				s.logger.Debug("event stream write ended", "error", err)
				return
			}
		}
	}
}
