package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/governor/engine"
	"github.com/xraph/governor/operation"
)

// registerWebhookCategories registers one handler per configured
// category. Each handler forwards the operation payload to its
// downstream URL, so the engine's retry, breaker and dead-letter
// semantics apply to the delivery.
func registerWebhookCategories(eng *engine.Engine, categories map[string]string, logger *slog.Logger) {
	if len(categories) == 0 {
		return
	}

	client := &http.Client{Timeout: 30 * time.Second}
	for name, url := range categories {
		eng.RegisterHandler(name, newWebhookHandler(client, url))
		logger.Info("registered webhook category",
			slog.String("category", name),
			slog.String("url", url),
		)
	}
}

// newWebhookHandler returns a handler that POSTs the payload as JSON to
// the downstream URL. Any non-2xx response is a failure.
func newWebhookHandler(client *http.Client, url string) operation.HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", url, err)
		}
		defer resp.Body.Close()

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			return fmt.Errorf("webhook %s: unexpected status %d", url, resp.StatusCode)
		}
		return nil
	}
}
