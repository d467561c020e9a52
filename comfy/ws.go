package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Node     *string `json:"node"`
	} `json:"data"`
}

// WaitCompletion blocks until the server reports that jobID finished,
// failed or was interrupted. The caller still reads history afterwards.
// Binary preview frames and events for other jobs are skipped.
func (c *Client) WaitCompletion(ctx context.Context, jobID string) error {
	c.mu.Lock()
	conn, dialErr := c.ws, c.wsErr
	c.mu.Unlock()
	if conn == nil {
		if dialErr != nil {
			return fmt.Errorf("comfy ws: not connected: %w", dialErr)
		}
		return errors.New("comfy ws: not connected")
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.dropWS(conn)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
				return context.DeadlineExceeded
			}
			return fmt.Errorf("comfy ws: read: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Data.PromptID != jobID {
			continue
		}
		switch msg.Type {
		case "execution_success", "execution_error", "execution_interrupted":
			_ = conn.SetReadDeadline(time.Time{})
			return nil
		case "executing":
			if msg.Data.Node == nil {
				_ = conn.SetReadDeadline(time.Time{})
				return nil
			}
		}
	}
}

// ensureWS dials /ws once; the connection is reused across jobs so no
// completion event is missed between submit and wait.
func (c *Client) ensureWS(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws != nil {
		return
	}
	target := wsURL(c.baseURL) + "/ws?clientId=" + url.QueryEscape(c.config.ClientID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		c.wsErr = fmt.Errorf("dial %s: %w", target, err)
		return
	}
	// The server greets each session with a status frame once it is
	// registered; events for our jobs can only follow it.
	_ = conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
	if _, _, err := conn.ReadMessage(); err != nil {
		_ = conn.Close()
		c.wsErr = fmt.Errorf("read greeting: %w", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	c.ws, c.wsErr = conn, nil
}

func (c *Client) dropWS(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == conn {
		_ = c.ws.Close()
		c.ws = nil
	}
}

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
