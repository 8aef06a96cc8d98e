package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/zeebo/blake3"

	"ntt/internal/logger"
)

// logEmitter logs outbound messages instead of delivering them. It is
// the default binding for transceivers without a webhook, enough to
// observe emissions on a development node.
type logEmitter struct {
	index uint8
}

func (e *logEmitter) Emit(_ context.Context, payload []byte) error {
	digest := blake3.Sum256(payload)

	logger.Info("outbound message",
		"transceiver", e.index,
		"bytes", len(payload),
		"digest", hex.EncodeToString(digest[:8]),
	)

	return nil
}

// webhookEmitter POSTs outbound messages to a relayer endpoint. A
// non-2xx response counts as a failed emission so the release retry
// path re-delivers later.
type webhookEmitter struct {
	index  uint8
	url    string
	client *http.Client
}

func newWebhookEmitter(index uint8, url string) *webhookEmitter {
	return &webhookEmitter{
		index:  index,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *webhookEmitter) Emit(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request:\n%w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s:\n%w", e.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %d", e.url, resp.StatusCode)
	}

	logger.Debug("delivered outbound message",
		"transceiver", e.index,
		"url", e.url,
		"bytes", len(payload),
	)

	return nil
}
