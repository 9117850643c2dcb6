package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// WebhookExporter batches engine events and delivers them to a webhook
// endpoint. Delivery uses a retrying HTTP client so transient endpoint
// failures do not drop events.
type WebhookExporter struct {
	config     WebhookConfig
	httpClient *http.Client

	mu    sync.Mutex
	batch []Event

	done   chan struct{}
	closed sync.Once
}

// WebhookConfig holds configuration for the webhook exporter.
type WebhookConfig struct {
	// URL is the webhook endpoint events are POSTed to
	URL string `json:"url"`

	// APIKey, when set, is sent as a bearer token
	APIKey string `json:"api_key,omitempty"`

	// BatchSize triggers an immediate flush when reached
	BatchSize int `json:"batch_size"`

	// FlushInterval bounds how long events wait in the batch
	FlushInterval time.Duration `json:"flush_interval"`
}

// NewWebhookExporter creates and starts a webhook exporter.
func NewWebhookExporter(config WebhookConfig) (*WebhookExporter, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL not configured")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Minute
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 3 * time.Second
	retryClient.Logger = nil

	e := &WebhookExporter{
		config:     config,
		httpClient: retryClient.StandardClient(),
		batch:      make([]Event, 0, config.BatchSize),
		done:       make(chan struct{}),
	}

	go e.periodicFlush()

	logrus.Infof("Webhook event exporter initialized for %s", config.URL)
	return e, nil
}

// Emit appends the event to the batch, flushing when the batch is full.
func (e *WebhookExporter) Emit(event Event) {
	e.mu.Lock()
	e.batch = append(e.batch, event)
	full := len(e.batch) >= e.config.BatchSize
	e.mu.Unlock()

	if full {
		go e.Flush()
	}
}

// periodicFlush delivers partial batches on a timer.
func (e *WebhookExporter) periodicFlush() {
	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush()
		case <-e.done:
			return
		}
	}
}

// Flush delivers the current batch, if any, to the webhook endpoint.
func (e *WebhookExporter) Flush() {
	e.mu.Lock()
	if len(e.batch) == 0 {
		e.mu.Unlock()
		return
	}
	batch := e.batch
	e.batch = make([]Event, 0, e.config.BatchSize)
	e.mu.Unlock()

	if err := e.deliver(batch); err != nil {
		logrus.Errorf("Failed to export %d events to webhook: %v", len(batch), err)
	}
}

// deliver POSTs one batch of events as JSON.
func (e *WebhookExporter) deliver(batch []Event) error {
	payload := struct {
		Events     []Event `json:"events"`
		ExportTime string  `json:"export_time"`
		Count      int     `json:"count"`
	}{
		Events:     batch,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(batch),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Stop flushes any buffered events and stops the background timer.
func (e *WebhookExporter) Stop() {
	e.closed.Do(func() { close(e.done) })
	e.Flush()
}
