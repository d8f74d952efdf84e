package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// session is one established connection over a single transport kind.
// Receive is called from one goroutine only; Send may be called concurrently.
type session interface {
	ID() string
	Receive() (Frame, error)
	Send(f Frame) error
	Close() error
}

// sessionDialer opens sessions of one transport kind.
type sessionDialer interface {
	Name() string
	Dial(ctx context.Context) (session, error)
}

// endpoint derives the URL for transport from the configured base URL and path.
func endpoint(base, path, transport string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("parse socket url %q: missing host", base)
	}

	switch transport {
	case TransportWebSocket:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "ws"
		case "https", "wss":
			u.Scheme = "wss"
		default:
			return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
		}
	case TransportPolling:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "http"
		case "https", "wss":
			u.Scheme = "https"
		default:
			return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrNoTransport, transport)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	q := u.Query()
	q.Set("transport", transport)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// statusError turns a rejected handshake or poll into an error carrying the
// server's status and message, so rate-limit text reaches the caller.
func statusError(resp *http.Response) error {
	var body []byte
	if resp.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(resp.Body, 1024))
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("server responded %d: %s", resp.StatusCode, msg)
}
