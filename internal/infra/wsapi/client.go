package wsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/engine"
	"dex_go/internal/infra"
	"dex_go/internal/instruction"
	"dex_go/internal/service"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is a request/response client for the server. Calls are
// serialised; one request is in flight at a time.
type Client struct {
	conn    *websocket.Conn
	mu      sync.Mutex
	Timeout time.Duration
}

// Dial connects to a ws:// or wss:// URL.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, make(http.Header))
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	conn.SetReadLimit(maxMessage)
	return &Client{conn: conn, Timeout: 10 * time.Second}, nil
}

// DialRetry dials until it succeeds, ctx is done or maxRetries attempts
// have failed, backing off exponentially between attempts.
func DialRetry(ctx context.Context, url string, maxRetries int) (*Client, error) {
	for retryCount := 0; ; retryCount++ {
		c, err := Dial(ctx, url)
		if err == nil {
			return c, nil
		}
		if retryCount >= maxRetries {
			return nil, err
		}
		delay := infra.CalculateBackoff(retryCount)
		slog.Warn("Server connection failed", slog.Any("error", err), slog.Int("retry", retryCount), slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// Do sends req and waits for its response. A rejected request is returned
// as a *RemoteError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	c.conn.SetReadDeadline(deadline)
	for {
		var resp Response
		if err := c.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.ID != req.ID {
			continue // answer to an abandoned request
		}
		if !resp.OK {
			return &resp, &RemoteError{Kind: resp.ErrorKind, Message: resp.Error}
		}
		return &resp, nil
	}
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", req.Method, err)
	}
	return nil
}

// Submit sends a signed instruction and returns what it produced.
func (c *Client) Submit(ctx context.Context, ins *instruction.Instruction) (*engine.Result, error) {
	var res engine.Result
	if err := c.call(ctx, Request{Method: MethodSubmit, Instruction: ins}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// QueryMarket reads a market view.
func (c *Client) QueryMarket(ctx context.Context, key domain.Key) (*service.MarketView, error) {
	var v service.MarketView
	if err := c.call(ctx, Request{Method: MethodQuery, Query: &Query{Kind: QueryMarket, Key: key}}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// QueryUserAccount reads a user account view.
func (c *Client) QueryUserAccount(ctx context.Context, key domain.Key) (*service.AccountView, error) {
	var v service.AccountView
	if err := c.call(ctx, Request{Method: MethodQuery, Query: &Query{Kind: QueryUserAccount, Key: key}}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// QueryOwnerAccounts reads every account an owner holds.
func (c *Client) QueryOwnerAccounts(ctx context.Context, owner domain.Key) ([]*service.AccountView, error) {
	var v []*service.AccountView
	if err := c.call(ctx, Request{Method: MethodQuery, Query: &Query{Kind: QueryOwnerAccounts, Key: owner}}, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// QueryMetrics reads the server's counters.
func (c *Client) QueryMetrics(ctx context.Context) (*infra.MetricsSnapshot, error) {
	var v infra.MetricsSnapshot
	if err := c.call(ctx, Request{Method: MethodQuery, Query: &Query{Kind: QueryMetrics}}, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
