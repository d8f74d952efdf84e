package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// pollDialer opens HTTP long-polling sessions.
//
// Wire protocol, all on one endpoint:
//
//	GET    ?transport=polling          -> {"sid": "..."}
//	GET    ?transport=polling&sid=...  -> [frame, ...] or 204 when idle
//	POST   ?transport=polling&sid=...  <- frame
//	DELETE ?transport=polling&sid=...  closes the session
//
// A 404 or 410 on poll means the server ended the session.
type pollDialer struct {
	url    string
	cfg    SocketConfig
	client *http.Client
	logger *slog.Logger
}

type pollHandshake struct {
	SID string `json:"sid"`
}

func (d *pollDialer) Name() string { return TransportPolling }

func (d *pollDialer) Dial(ctx context.Context) (session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create handshake request: %w", err)
	}
	d.setHeaders(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var hs pollHandshake
	if err := json.NewDecoder(resp.Body).Decode(&hs); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, errors.New("decode handshake: empty sid")
	}

	sessURL, err := url.Parse(d.url)
	if err != nil {
		return nil, err
	}
	q := sessURL.Query()
	q.Set("sid", hs.SID)
	sessURL.RawQuery = q.Encode()

	sctx, cancel := context.WithCancel(context.Background())
	return &pollSession{
		dialer: d,
		sid:    hs.SID,
		url:    sessURL.String(),
		ctx:    sctx,
		cancel: cancel,
	}, nil
}

func (d *pollDialer) setHeaders(req *http.Request) {
	for k, v := range d.cfg.Header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
}

// pollSession is a session over repeated HTTP requests.
type pollSession struct {
	dialer *pollDialer
	sid    string
	url    string

	ctx    context.Context
	cancel context.CancelFunc

	pending   []Frame
	closeOnce sync.Once
}

func (s *pollSession) ID() string { return s.sid }

func (s *pollSession) Receive() (Frame, error) {
	for len(s.pending) == 0 {
		frames, err := s.poll()
		if err != nil {
			return Frame{}, err
		}
		s.pending = frames
	}

	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, nil
}

func (s *pollSession) poll() ([]Frame, error) {
	ctx := s.ctx
	if s.dialer.cfg.PingInterval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.dialer.cfg.PingInterval+s.dialer.cfg.PingTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	s.dialer.setHeaders(req)

	resp, err := s.dialer.client.Do(req)
	if err != nil {
		if s.ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, errPingTimeout
		}
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, errServerClosed
	case resp.StatusCode != http.StatusOK:
		return nil, statusError(resp)
	}

	var frames []Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}

	// Drop malformed entries the same way the websocket session does.
	out := frames[:0]
	for _, f := range frames {
		if f.Event != "" {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *pollSession) Send(f Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.dialer.cfg.WriteTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	s.dialer.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.dialer.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return nil
}

// Close ends the session locally and tells the server, best effort.
func (s *pollSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		req, rerr := http.NewRequestWithContext(ctx, http.MethodDelete, s.url, nil)
		if rerr != nil {
			err = rerr
			return
		}
		resp, rerr := s.dialer.client.Do(req)
		if rerr != nil {
			s.dialer.logger.Debug("failed to close polling session", "sid", s.sid, "error", rerr)
			return
		}
		resp.Body.Close()
	})
	return err
}
