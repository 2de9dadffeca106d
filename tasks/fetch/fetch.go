// Package fetch provides an event-streaming dagflow Task that downloads a
// URL and extracts its readable text content, using
// github.com/go-shiori/go-readability for extraction.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/flowforge/dagflow"
)

const maxBodyBytes = 1 << 20 // 1MB

// Option configures a Task.
type Option func(*config)

type config struct {
	client *http.Client
}

// WithClient overrides the default 15-second-timeout client.
func WithClient(c *http.Client) Option {
	return func(cfg *config) { cfg.client = c }
}

// New builds an event-streaming Task named name that reads a "url" key from
// its input, fetches it, and extracts readable article text, emitting a
// progress chunk for each phase (connect, fetch, extract). The extracted
// text is returned under the "text" output key.
func New(name string, opts ...Option) *dagflow.Task {
	cfg := config{client: &http.Client{Timeout: 15 * time.Second}}
	for _, o := range opts {
		o(&cfg)
	}

	return dagflow.NewStreamingTask(name, func(ctx context.Context, input map[string]any, yield func(dagflow.StreamChunk) bool) (map[string]any, error) {
		rawURL, _ := input["url"].(string)
		if rawURL == "" {
			return nil, fmt.Errorf("fetch: missing %q input", "url")
		}

		yield(dagflow.StreamChunk{Kind: dagflow.ChunkProgress, TaskName: name, Content: "connecting", Progress: 10})

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch: invalid url: %w", err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; dagflow/1.0)")

		resp, err := cfg.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("fetch: HTTP %d from %s", resp.StatusCode, rawURL)
		}

		yield(dagflow.StreamChunk{Kind: dagflow.ChunkProgress, TaskName: name, Content: "fetching", Progress: 50})

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("fetch: read body: %w", err)
		}

		yield(dagflow.StreamChunk{Kind: dagflow.ChunkProgress, TaskName: name, Content: "extracting", Progress: 80})

		parsedURL, _ := url.Parse(rawURL)
		article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
		if err != nil || article.TextContent == "" {
			return nil, fmt.Errorf("fetch: extract readable content: %w", err)
		}

		return map[string]any{
			"text":  strings.TrimSpace(article.TextContent),
			"title": article.Title,
			"url":   rawURL,
		}, nil
	})
}
