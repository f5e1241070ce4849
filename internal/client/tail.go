package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Tail subscribes over /v1/ws and calls fn with each broadcast. Pong replies
// to its own probes are not passed to fn. When pingEvery is positive a "ping"
// probe is sent on that period so idle reaping leaves the connection alone.
// A nil error is returned when ctx ends or the server closes normally.
func (c *HTTPClient) Tail(ctx context.Context, pingEvery time.Duration, fn func(msg []byte) error) error {
	header := http.Header{}
	c.authorize(header)

	conn, _, err := websocket.Dial(ctx, wsURL(c.baseURL)+"/v1/ws", &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dialing subscriber endpoint: %w", err)
	}
	defer conn.CloseNow()
	// A full page of events can exceed the default 32KiB read limit.
	conn.SetReadLimit(maxBroadcastSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if pingEvery > 0 {
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
						return
					}
				}
			}
		}()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("reading broadcast: %w", err)
		}
		if string(data) == "pong" {
			continue
		}
		if err := fn(data); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			if errors.Is(err, ErrStopTail) {
				return nil
			}
			return err
		}
	}
}

// maxBroadcastSize bounds a single broadcast message.
const maxBroadcastSize = 16 << 20

// ErrStopTail may be returned by a Tail callback to end the subscription
// without error.
var ErrStopTail = errors.New("stop tail")

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
