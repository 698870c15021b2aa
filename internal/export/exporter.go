// Package export ships computed wallet metrics to a downstream webhook in batches.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/cabal-metrics/internal/model"
)

const (
	DefaultBatchSize = 100
	DefaultInterval  = time.Minute

	// Bound on buffered results while the webhook is unreachable
	maxPending = 10000
)

// Config holds the webhook exporter settings.
type Config struct {
	WebhookURL string
	APIKey     string
	BatchSize  int
	Interval   time.Duration

	// HTTPClient overrides the transport used for webhook calls
	HTTPClient *http.Client
	// RetryWaitMin and RetryWaitMax bound the backoff between delivery attempts
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Payload is the body POSTed to the webhook.
type Payload struct {
	Metrics    []model.MetricsResult `json:"metrics"`
	ExportTime string                `json:"export_time"`
	Count      int                   `json:"count"`
}

// Exporter queues metric results and delivers them on batch size or interval.
// A zero-value or disabled Exporter accepts and drops everything.
type Exporter struct {
	cfg     Config
	client  *retryablehttp.Client
	enabled bool

	mu      sync.Mutex
	pending []model.MetricsResult
	dropped int64

	flushCh  chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an exporter and starts its background loop. Without a webhook
// URL the exporter is disabled.
func New(cfg Config) *Exporter {
	if cfg.WebhookURL == "" {
		logrus.Debug("Result export disabled")
		return &Exporter{cfg: cfg}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	client := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}
	client.HTTPClient.Timeout = 10 * time.Second
	client.RetryMax = 2
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Logger = nil

	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		cfg:     cfg,
		client:  client,
		enabled: true,
		pending: make([]model.MetricsResult, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go e.run(ctx)

	logrus.WithFields(logrus.Fields{
		"batch_size": cfg.BatchSize,
		"interval":   cfg.Interval,
	}).Info("Result exporter initialized")
	return e
}

// Enabled reports whether results are delivered anywhere.
func (e *Exporter) Enabled() bool {
	return e != nil && e.enabled
}

// Add queues results for export. A full batch triggers an immediate flush.
func (e *Exporter) Add(results ...model.MetricsResult) {
	if !e.Enabled() || len(results) == 0 {
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, results...)
	if over := len(e.pending) - maxPending; over > 0 {
		e.pending = e.pending[over:]
		e.dropped += int64(over)
		logrus.WithField("dropped", over).Warn("Export queue full, dropping oldest results")
	}
	full := len(e.pending) >= e.cfg.BatchSize
	e.mu.Unlock()

	if full {
		select {
		case e.flushCh <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued results.
func (e *Exporter) Pending() int {
	if !e.Enabled() {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Flush delivers everything queued. On failure the batch is put back at the
// front of the queue.
func (e *Exporter) Flush(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}

	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.pending
	e.pending = make([]model.MetricsResult, 0, e.cfg.BatchSize)
	e.mu.Unlock()

	if err := e.send(ctx, batch); err != nil {
		e.mu.Lock()
		e.pending = append(batch, e.pending...)
		e.mu.Unlock()
		return err
	}

	logrus.WithField("count", len(batch)).Info("Exported metric results")
	return nil
}

// Stop ends the background loop and makes a final delivery attempt bounded by ctx.
func (e *Exporter) Stop(ctx context.Context) error {
	if !e.Enabled() {
		return nil
	}
	e.stopOnce.Do(e.cancel)
	<-e.done
	return e.Flush(ctx)
}

func (e *Exporter) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.flushCh:
		case <-ctx.Done():
			return
		}
		if err := e.Flush(ctx); err != nil {
			logrus.WithError(err).Error("Failed to export metric results")
		}
	}
}

func (e *Exporter) send(ctx context.Context, batch []model.MetricsResult) error {
	body, err := json.Marshal(Payload{
		Metrics:    batch,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(batch),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
