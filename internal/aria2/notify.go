package aria2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"nhooyr.io/websocket"
)

// Notification is an async event pushed by aria2.
type Notification struct {
	Method string              `json:"method"`
	Params []NotificationEvent `json:"params"`
}

type NotificationEvent struct {
	GID string `json:"gid"`
}

const (
	OnDownloadStart    = "aria2.onDownloadStart"
	OnDownloadPause    = "aria2.onDownloadPause"
	OnDownloadStop     = "aria2.onDownloadStop"
	OnDownloadComplete = "aria2.onDownloadComplete"
	OnDownloadError    = "aria2.onDownloadError"
)

// Notifications dials the websocket endpoint next to the RPC URL and streams
// notifications. The channel closes when the connection ends or ctx is done.
func (c *Client) Notifications(ctx context.Context) (<-chan Notification, error) {
	wsURL := *c.baseURL
	switch wsURL.Scheme {
	case "http":
		wsURL.Scheme = "ws"
	case "https":
		wsURL.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", wsURL.Scheme)
	}
	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, err
	}
	ch := make(chan Notification, 8)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var n Notification
			if err := json.Unmarshal(bytes.TrimSpace(raw), &n); err != nil {
				continue
			}
			select {
			case ch <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
