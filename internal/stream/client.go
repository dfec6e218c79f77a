package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/logging"
)

// readSize is the maximum fragment handed to the parser per read.
const readSize = 4096

// Client opens event streams at GET {baseURL}/stream/{request id}.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a stream Client. The HTTP client has no timeout; a
// stream lives until the server ends it or the Conn is closed.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
		logger:     logging.OrNop(logger),
	}
}

// Conn is one open event stream.
type Conn struct {
	requestID string
	parser    *Parser
	cancel    context.CancelFunc
	closeOnce gosync.Once
	done      chan struct{}
	logger    *zap.Logger
}

// Open starts streaming the events of requestID into h. It returns
// immediately; connection failures are reported through h.OnError as a
// *TransportError. Cancelling ctx closes the stream.
func (c *Client) Open(ctx context.Context, requestID string, h Handlers) (*Conn, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, fmt.Errorf("request id is required")
	}

	ctx, cancel := context.WithCancel(ctx)
	endpoint := c.baseURL + "/stream/" + url.PathEscape(requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	conn := &Conn{
		requestID: requestID,
		parser:    NewParser(h),
		cancel:    cancel,
		done:      make(chan struct{}),
		logger:    c.logger,
	}
	go conn.run(ctx, c.httpClient, req)
	return conn, nil
}

// run reads the response body in arbitrary fragments until the stream ends.
func (c *Conn) run(ctx context.Context, hc *http.Client, req *http.Request) {
	defer close(c.done)
	defer c.cancel()

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			c.parser.Fail(&TransportError{RequestID: c.requestID, Err: err})
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.parser.Fail(&TransportError{RequestID: c.requestID, Status: resp.StatusCode})
		return
	}

	c.logger.Debug("stream opened", zap.String("request_id", c.requestID))

	buf := make([]byte, readSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			c.parser.Feed(string(buf[:n]))
			if c.parser.Ended() {
				return
			}
			if c.parser.HungUp() {
				c.logger.Debug("server requested disconnect", zap.String("request_id", c.requestID))
				c.parser.Finish()
				return
			}
		}
		if errors.Is(err, io.EOF) {
			c.parser.Finish()
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				c.parser.Fail(&TransportError{RequestID: c.requestID, Err: err})
			}
			return
		}
	}
}

// Close tears down the stream and discards any partial frame. No handler
// is called after Close returns, except one already running. It is
// idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.parser.Discard()
		c.cancel()
	})
}

// Cancel implements registry.Subscription.
func (c *Conn) Cancel() { c.Close() }

// Done is closed once the reader goroutine exits.
func (c *Conn) Done() <-chan struct{} { return c.done }
