package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vietddude/depwatch/internal/core/domain"
)

// Transport delivers an alert somewhere.
type Transport interface {
	Send(ctx context.Context, rec domain.AlertRecord) error
}

// LogTransport writes alerts to the structured log.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a log transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, rec domain.AlertRecord) error {
	level := slog.LevelWarn
	if rec.Severity == domain.SeverityCritical {
		level = slog.LevelError
	}
	t.logger.Log(ctx, level, "ALERT",
		"id", rec.ID,
		"type", rec.Type,
		"severity", rec.Severity,
		"message", rec.Message,
		"affected", len(rec.Affected),
	)
	return nil
}

// WebhookTransport POSTs alerts as JSON. The top-level "text" field makes the
// payload readable by Slack-style incoming webhooks.
type WebhookTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookTransport creates a webhook transport.
func NewWebhookTransport(url string, headers map[string]string, timeout time.Duration) *WebhookTransport {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Text  string             `json:"text"`
	Alert domain.AlertRecord `json:"alert"`
}

func (t *WebhookTransport) Send(ctx context.Context, rec domain.AlertRecord) error {
	body, err := json.Marshal(webhookPayload{
		Text:  fmt.Sprintf("[%s] %s", rec.Severity, rec.Message),
		Alert: rec,
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Publisher is the subset of *amqp.Channel used to publish alerts.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPTransport publishes alerts to a RabbitMQ exchange with routing key "alerts.<type>".
type AMQPTransport struct {
	ch       Publisher
	exchange string
}

// NewAMQPTransport wraps an open channel.
func NewAMQPTransport(ch Publisher, exchange string) *AMQPTransport {
	return &AMQPTransport{ch: ch, exchange: exchange}
}

// DialAMQP connects, declares a durable topic exchange and returns a
// transport plus a closer for the connection.
func DialAMQP(url, exchange string) (*AMQPTransport, io.Closer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return NewAMQPTransport(ch, exchange), conn, nil
}

// RoutingKey returns the routing key used for an alert type.
func RoutingKey(t domain.AlertType) string {
	return "alerts." + string(t)
}

func (t *AMQPTransport) Send(ctx context.Context, rec domain.AlertRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	err = t.ch.PublishWithContext(ctx, t.exchange, RoutingKey(rec.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID,
		Timestamp:    rec.Timestamp,
		Type:         string(rec.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Target is a named transport inside a MultiTransport.
type Target struct {
	Name      string
	Transport Transport
}

// MultiTransport sends to every target, logging each failure. It returns
// the joined errors so the dispatcher can count the delivery as failed.
type MultiTransport struct {
	targets []Target
	logger  *slog.Logger
}

// NewMultiTransport creates a fan-out transport.
func NewMultiTransport(logger *slog.Logger, targets ...Target) *MultiTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiTransport{targets: targets, logger: logger}
}

func (m *MultiTransport) Send(ctx context.Context, rec domain.AlertRecord) error {
	var errs []error
	for _, target := range m.targets {
		if err := target.Transport.Send(ctx, rec); err != nil {
			m.logger.Warn("Alert target failed",
				"target", target.Name,
				"alert_id", rec.ID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
		}
	}
	return errors.Join(errs...)
}
