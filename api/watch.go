package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/EasyDarwin/StreamStudio/models"
)

const (
	handshakeTimeout = 10 * time.Second
	initialBackoff   = 1 * time.Second
	maxBackoff       = 30 * time.Second
	maxMessageSize   = 64 * 1024
)

// StatusURL is the websocket address of the backend's status feed.
func (c *Client) StatusURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = pathStatusWS
	return u.String(), nil
}

// WatchStatus follows the backend status feed and calls fn for every
// status_update message. It reconnects with exponential backoff and returns
// only when ctx is done.
func (c *Client) WatchStatus(ctx context.Context, fn func(models.BackendStatus)) error {
	wsURL, err := c.StatusURL()
	if err != nil {
		return err
	}

	backoff := initialBackoff
	for {
		connected, err := c.watchOnce(ctx, wsURL, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = initialBackoff
		}
		logger.Debugf("status feed closed: %v; reconnecting in %s", err, backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, wsURL string, fn func(models.BackendStatus)) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			conn.Close()
		case <-stop:
		}
	}()

	logger.Infof("status feed connected: %s", wsURL)
	for {
		var msg models.StatusUpdate
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}
		if msg.Type != "status_update" {
			continue
		}
		fn(msg.Data)
	}
}
