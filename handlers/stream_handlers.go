package handlers

import (
	"net/http"
	"sync"
	"time"

	"travelflow-backend/repository"
	"travelflow-backend/services"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamHandler pushes the caller's trip state over a websocket every time
// the repository changes, including changes made by other devices.
type StreamHandler struct {
	sessions *services.SessionManager
	upgrader websocket.Upgrader
}

func NewStreamHandler(sessions *services.SessionManager, allowedOrigins []string) *StreamHandler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return &StreamHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || allowed[origin]
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := getUserID(r)
	if err != nil {
		handleError(w, err)
		return
	}

	repo, err := h.sessions.Get(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		zap.L().Warn("Websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	// Only the latest state matters, so a slow client skips intermediate ones.
	updates := make(chan repository.TripState, 1)
	var mu sync.Mutex
	push := func(s repository.TripState) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-updates:
		default:
		}
		updates <- s
	}
	stop := repo.Listen(push)
	defer stop()
	push(repo.State())

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	zap.L().Debug("Trip stream opened", zap.String("user_id", userID))
	for {
		select {
		case <-done:
			zap.L().Debug("Trip stream closed", zap.String("user_id", userID))
			return
		case <-repo.Done():
			zap.L().Debug("Trip stream ended with session", zap.String("user_id", userID))
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
			return
		case state := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(state); err != nil {
				zap.L().Debug("Trip stream write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client messages and closes done when the peer goes away.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
