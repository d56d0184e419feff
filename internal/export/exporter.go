// Package export ships the audit event stream to external monitoring endpoints.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/autocompounder/internal/model"
)

// ExporterConfig holds configuration for the webhook exporter.
type ExporterConfig struct {
	Enabled        bool   `json:"enabled"`
	BatchSize      int    `json:"batch_size"`
	ExportInterval string `json:"export_interval"`

	WebhookURL    string `json:"webhook_url"`
	WebhookAPIKey string `json:"webhook_api_key,omitempty"`
}

// Exporter batches audit events and delivers them to a webhook endpoint.
type Exporter struct {
	config         ExporterConfig
	httpClient     *retryablehttp.Client
	signer         *ReceiptSigner
	mutex          sync.RWMutex
	batch          []model.Event
	lastExport     time.Time
	exportInterval time.Duration
	exportContext  context.Context
	exportCancel   context.CancelFunc
}

// NewExporter creates a webhook exporter. A nil signer ships unsigned batches.
func NewExporter(config ExporterConfig, signer *ReceiptSigner) *Exporter {
	if !config.Enabled {
		return &Exporter{config: config}
	}

	exportInterval, err := time.ParseDuration(config.ExportInterval)
	if err != nil {
		exportInterval = 1 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	exporter := &Exporter{
		config:         config,
		httpClient:     httpClient,
		signer:         signer,
		batch:          make([]model.Event, 0, config.BatchSize),
		exportInterval: exportInterval,
	}

	exporter.exportContext, exporter.exportCancel = context.WithCancel(context.Background())
	go exporter.periodicExport()

	logrus.Info("webhook exporter initialized")
	return exporter
}

// Record queues one event for export. Exporter satisfies model.Sink so
// strategies can publish directly into it.
func (e *Exporter) Record(evt model.Event) {
	if !e.config.Enabled {
		return
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.batch = append(e.batch, evt)
	if len(e.batch) >= e.config.BatchSize {
		go e.exportBatch()
	}
}

func (e *Exporter) periodicExport() {
	ticker := time.NewTicker(e.exportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.exportBatch()
		case <-e.exportContext.Done():
			return
		}
	}
}

func (e *Exporter) exportBatch() {
	e.mutex.Lock()

	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}

	events := make([]model.Event, len(e.batch))
	copy(events, e.batch)
	e.batch = make([]model.Event, 0, e.config.BatchSize)
	e.lastExport = time.Now()

	e.mutex.Unlock()

	if err := e.deliver(events); err != nil {
		logrus.Errorf("Failed to export events to webhook: %v", err)
		return
	}
	logrus.Infof("Exported %d audit events to webhook", len(events))
}

func (e *Exporter) deliver(events []model.Event) error {
	if e.config.WebhookURL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload := struct {
		Events     []model.Event `json:"events"`
		ExportTime string        `json:"export_time"`
		Count      int           `json:"count"`
	}{
		Events:     events,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(events),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	if e.signer != nil {
		jsonData, err = e.signer.SignReceipt(jsonData)
		if err != nil {
			return fmt.Errorf("failed to sign batch: %w", err)
		}
	}

	req, err := retryablehttp.NewRequest("POST", e.config.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
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

// Stop cleanly stops the exporter, flushing any queued events.
func (e *Exporter) Stop() {
	if e.exportCancel != nil {
		e.exportCancel()
	}
	e.exportBatch()
}

// Status returns the current state of the exporter for the telemetry endpoint.
func (e *Exporter) Status() map[string]interface{} {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	status := map[string]interface{}{
		"enabled":         e.config.Enabled,
		"batch_size":      e.config.BatchSize,
		"export_interval": e.exportInterval.String(),
		"current_batch":   len(e.batch),
		"signed":          e.signer != nil,
	}

	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
		status["next_export_in"] = (e.exportInterval - time.Since(e.lastExport)).String()
	}

	return status
}
