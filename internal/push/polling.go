package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/tasksync/internal/logging"
)

// fetchTimeout is the maximum time allowed for a single record read.
const fetchTimeout = 30 * time.Second

// PollingSource implements Source over plain HTTP by re-reading
// GET {baseURL}/{path} on a fixed interval. A 404 means the record does not
// exist yet. A record is delivered when its content differs from the last
// delivery.
type PollingSource struct {
	baseURL    string
	token      string
	interval   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPollingSource creates a PollingSource. token may be empty.
func NewPollingSource(
	baseURL, token string,
	interval time.Duration,
	logger *zap.Logger,
) *PollingSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingSource{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		interval: interval,
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		logger: logging.OrNop(logger),
	}
}

// Watch implements Source. The first read happens immediately. The stop
// func does not wait for an in-flight read, so it may be called from fn.
func (p *PollingSource) Watch(path string, fn func(fields map[string]any)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go p.poll(ctx, path, fn)

	var once gosync.Once
	return func() {
		once.Do(cancel)
	}
}

// poll runs the read loop for one record until ctx is cancelled.
func (p *PollingSource) poll(ctx context.Context, path string, fn func(map[string]any)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last []byte
	check := func() {
		body, found, err := p.fetch(ctx, path)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("reading push record failed",
					zap.String("path", path), zap.Error(err))
			}
			return
		}
		if !found || bytes.Equal(body, last) {
			return
		}

		var fields map[string]any
		if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
			p.logger.Warn("push record is not a JSON object",
				zap.String("path", path), zap.Error(err))
			return
		}
		last = body
		if ctx.Err() != nil {
			return
		}
		fn(fields)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// fetch reads a record. found is false on 404.
func (p *PollingSource) fetch(ctx context.Context, path string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := p.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("executing request GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("unexpected status %d on GET %s", resp.StatusCode, path)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return nil, false, fmt.Errorf("invalid JSON from GET %s: %w", path, err)
	}
	return compact.Bytes(), true, nil
}
