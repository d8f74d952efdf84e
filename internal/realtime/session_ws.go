package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsDialer opens websocket sessions.
type wsDialer struct {
	url    string
	cfg    SocketConfig
	logger *slog.Logger
}

func (d *wsDialer) Name() string { return TransportWebSocket }

func (d *wsDialer) Dial(ctx context.Context) (session, error) {
	header := http.Header{}
	for k, v := range d.cfg.Header {
		header[k] = v
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.Timeout,
	}

	conn, resp, err := dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, statusError(resp)
		}
		return nil, err
	}

	return newWSSession(conn, d.cfg, d.logger), nil
}

// wsSession is a session over one websocket connection.
type wsSession struct {
	id     string
	conn   *websocket.Conn
	cfg    SocketConfig
	logger *slog.Logger

	writeMu sync.Mutex

	mu         sync.Mutex
	lastPongAt time.Time
	closeErr   error

	done      chan struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn, cfg SocketConfig, logger *slog.Logger) *wsSession {
	s := &wsSession{
		id:         uuid.NewString(),
		conn:       conn,
		cfg:        cfg,
		logger:     logger,
		lastPongAt: time.Now(),
		done:       make(chan struct{}),
	}

	// Server pings count as liveness too.
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	if cfg.PingInterval > 0 {
		go s.heartbeatLoop()
	}

	return s
}

func (s *wsSession) ID() string { return s.id }

func (s *wsSession) touch() {
	s.mu.Lock()
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

// Receive returns the next text frame. Malformed frames are skipped.
func (s *wsSession) Receive() (Frame, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closeErr := s.closeErr
			s.mu.Unlock()
			if closeErr != nil {
				return Frame{}, closeErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Frame{}, errServerClosed
			}
			return Frame{}, err
		}

		if msgType != websocket.TextMessage {
			continue
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			s.logger.Debug("dropping malformed frame", "session", s.id, "size", len(data))
			continue
		}
		return f, nil
	}
}

func (s *wsSession) Send(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(f)
}

func (s *wsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()

		err = s.conn.Close()
	})
	return err
}

// heartbeatLoop pings the server and closes the connection when pongs stop.
func (s *wsSession) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "session", s.id, "error", err)
			}

			s.mu.Lock()
			last := s.lastPongAt
			s.mu.Unlock()

			if time.Since(last) > s.cfg.PingInterval+s.cfg.PingTimeout {
				s.logger.Warn("no pong received, connection stale",
					"session", s.id,
					"last_pong", last,
					"timeout", s.cfg.PingTimeout,
				)
				s.mu.Lock()
				s.closeErr = errPingTimeout
				s.mu.Unlock()
				s.conn.Close()
				return
			}
		}
	}
}
