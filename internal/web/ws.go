package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWS 升级连接后按推送间隔广播状态快照
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.log != nil {
			s.log.LogError(err, map[string]interface{}{"op": "ws_upgrade"})
		}
		return
	}
	go s.pushLoop(conn)
}

func (s *Server) pushLoop(conn *websocket.Conn) {
	defer conn.Close()

	// 读取泵只用来发现对端关闭
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	if err := s.writeStatus(conn); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.writeStatus(conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(s.trader.Status())
}
