package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventUploadStored is published once per stored file.
const EventUploadStored = "upload.stored"

// UploadEvent is the payload sent to Kafka and to the webhook.
type UploadEvent struct {
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	File      FileDescriptor `json:"file"`
}

func newUploadEvent(ctx context.Context, fd FileDescriptor) UploadEvent {
	return UploadEvent{
		Event:     EventUploadStored,
		RequestID: RequestIDFromContext(ctx),
		Timestamp: time.Now().UTC(),
		File:      fd,
	}
}

// KafkaPublisher writes upload events to a topic, keyed by stored path.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokerAddress, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerAddress),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaPublisher) Name() string { return "kafka" }

func (k *KafkaPublisher) FileStored(ctx context.Context, fd FileDescriptor) error {
	value, err := json.Marshal(newUploadEvent(ctx, fd))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fd.NewFilename),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventUploadStored)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// WebhookPublisher posts upload events to a URL in the background with
// retries. FileStored only enqueues; Close waits for pending deliveries.
type WebhookPublisher struct {
	url        string
	secret     string
	client     *http.Client
	maxRetries int
	backoff    func(attempt int) time.Duration

	wg sync.WaitGroup
}

func NewWebhookPublisher(url, secret string) *WebhookPublisher {
	return &WebhookPublisher{
		url:        url,
		secret:     secret,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff: func(attempt int) time.Duration {
			// Exponential backoff
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

func (p *WebhookPublisher) Name() string { return "webhook" }

func (p *WebhookPublisher) FileStored(ctx context.Context, fd FileDescriptor) error {
	payload, err := json.Marshal(newUploadEvent(ctx, fd))
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.send(payload, RequestIDFromContext(ctx))
	}()
	return nil
}

// send delivers one payload with retries
func (p *WebhookPublisher) send(payload []byte, requestID string) {
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff(attempt))
		}

		status, err := p.post(payload)
		if err == nil {
			Debug("webhook_sent", map[string]any{"request_id": requestID, "url": p.url, "status": status})
			return
		}

		Warn("webhook_attempt_failed", map[string]any{
			"request_id": requestID,
			"url":        p.url,
			"attempt":    attempt + 1,
			"error":      err.Error(),
		})
	}

	GetMetrics().RecordHookFailure()
	Error("webhook_failed", map[string]any{"request_id": requestID, "url": p.url}, fmt.Errorf("max retries exceeded"))
}

func (p *WebhookPublisher) post(payload []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FormDrop-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", EventUploadStored)
	if p.secret != "" {
		req.Header.Set("X-Webhook-Signature", signWebhook(payload, p.secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return resp.StatusCode, nil
}

// Close waits for in-flight deliveries.
func (p *WebhookPublisher) Close() error {
	p.wg.Wait()
	return nil
}

// signWebhook returns "sha256=<hex HMAC-SHA256 of payload>".
func signWebhook(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
