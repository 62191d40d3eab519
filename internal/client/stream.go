package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"fraudscore/internal/server"
)

// StreamResult is the reply to one streamed request. Exactly one of
// Response and Err is set.
type StreamResult struct {
	Response *server.Response
	Err      *APIError
}

// wsURL maps the http(s) base onto the websocket scoring route.
func (c *Client) wsURL() string {
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/score"
}

// Stream scores reqs in order over a single websocket connection. A
// rejected request is reported in its result and does not stop the stream.
func (c *Client) Stream(ctx context.Context, reqs []server.Request) ([]StreamResult, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial score stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	results := make([]StreamResult, 0, len(reqs))
	for i, req := range reqs {
		if err := conn.WriteJSON(req); err != nil {
			return results, fmt.Errorf("failed to send request %d: %w", i, err)
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return results, fmt.Errorf("failed to read reply %d: %w", i, err)
		}
		res, err := decodeReply(data)
		if err != nil {
			return results, fmt.Errorf("reply %d: %w", i, err)
		}
		results = append(results, res)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return results, nil
}

func decodeReply(data []byte) (StreamResult, error) {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return StreamResult{}, fmt.Errorf("invalid reply: %w", err)
	}
	if probe.Error != nil {
		var e server.ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil {
			return StreamResult{}, fmt.Errorf("invalid error reply: %w", err)
		}
		return StreamResult{Err: &APIError{Message: e.Error, Kind: e.Kind, RequestID: e.RequestID}}, nil
	}
	var resp server.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return StreamResult{}, fmt.Errorf("invalid reply: %w", err)
	}
	return StreamResult{Response: &resp}, nil
}
