package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/event"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

const writeWait = 10 * time.Second

// eventFrame is one websocket message.
type eventFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// handleEvents streams the state updates of one session until the client
// disconnects. The current result is sent first so that late subscribers
// start from a consistent view.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.driver.Result(r.Context(), id); err != nil {
		s.respond(w, 0, research.Result{}, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The snapshot is taken after subscribing. Frames queue on mu until it
	// has been written.
	var mu sync.Mutex
	mu.Lock()
	sub := s.driver.SubscribeSession(id, event.HandlerFunc(func(_ context.Context, evt event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		err := writeFrame(conn, eventFrame{
			Type:      evt.Type(),
			ID:        evt.ID(),
			Timestamp: evt.Timestamp(),
			Data:      evt.Data(),
		})
		if err != nil {
			cancel()
		}
		return err
	}))
	defer sub.Unsubscribe()

	res, err := s.driver.Result(ctx, id)
	if err == nil {
		err = writeFrame(conn, eventFrame{Type: "session.snapshot", Timestamp: time.Now(), Data: res})
	}
	mu.Unlock()
	if err != nil {
		return
	}

	s.logger.Debug("event stream opened", "session_id", id)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("event stream read failed", "session_id", id, "error", err)
				}
				cancel()
				return
			}
		}
	}()

	<-ctx.Done()
	s.logger.Debug("event stream closed", "session_id", id)
}

func writeFrame(conn *websocket.Conn, frame eventFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}
