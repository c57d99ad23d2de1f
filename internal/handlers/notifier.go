package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/storecore/domain"
)

// NotifierName identifies the customer notifier in logs and dead letters.
const NotifierName = "customer-notifier"

// NotifierEvents are the events customers are told about.
var NotifierEvents = []domain.EventType{
	domain.EventOrderCreated,
}

// Notification is a message for one customer.
type Notification struct {
	UserID  string          `json:"user_id"`
	Subject string          `json:"subject"`
	Body    string          `json:"body"`
	Event   json.RawMessage `json:"event"`
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier turns customer-facing events into notifications.
type Notifier struct {
	sender Sender
	logger *zap.Logger
}

func NewNotifier(sender Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = NewLogSender(logger)
	}
	return &Notifier{sender: sender, logger: logger}
}

func (n *Notifier) Name() string { return NotifierName }

func (n *Notifier) Handle(ctx context.Context, event domain.Event) error {
	created, ok := event.Payload.(domain.OrderCreated)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := Notification{
		UserID:  created.UserID,
		Subject: "Order confirmed",
		Body: fmt.Sprintf("Order %s with %d item(s) totalling %s has been placed.",
			event.AggregateID, created.ItemCount, created.Total.StringFixed(2)),
		Event: raw,
	}
	return n.sender.Send(ctx, msg)
}

// LogSender writes notifications to the log.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("customer notification",
		zap.String("user_id", n.UserID),
		zap.String("subject", n.Subject),
		zap.String("body", n.Body),
	)
	return nil
}

// WebhookSender posts notifications as JSON to an HTTP endpoint.
type WebhookSender struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

func NewWebhookSender(client *fasthttp.Client, url string, timeout time.Duration) *WebhookSender {
	if client == nil {
		client = &fasthttp.Client{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{client: client, url: url, timeout: timeout}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	if code := resp.StatusCode(); code >= fasthttp.StatusBadRequest {
		return fmt.Errorf("notification webhook returned %d", code)
	}
	return nil
}
