// Package notify delivers engine-sent purchase orders to suppliers over HTTP webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"reorder-engine/internal/ai"
	"reorder-engine/internal/core"
	"reorder-engine/internal/logger"
)

// ErrNoChannel means neither the supplier nor the deployment configured a webhook.
var ErrNoChannel = errors.New("no notification channel configured for supplier")

type Config struct {
	// DefaultWebhookURL receives orders whose supplier has no webhook of its own.
	DefaultWebhookURL string
	Timeout           time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
}

// OrderLoader is the slice of core.OrderStore the notifier reads from.
type OrderLoader interface {
	GetOrderForNotification(ctx context.Context, orderID uuid.UUID) (*core.OrderNotification, error)
}

type WebhookNotifier struct {
	cfg        Config
	orders     OrderLoader
	composer   ai.MessageComposer
	httpClient *http.Client
	log        *logger.Logger
}

var _ core.Notifier = (*WebhookNotifier)(nil)

func New(log *logger.Logger, cfg Config, orders OrderLoader, composer ai.MessageComposer) (*WebhookNotifier, error) {
	if orders == nil {
		return nil, fmt.Errorf("order loader required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if composer == nil {
		composer = ai.TemplateComposer{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	cfg.DefaultWebhookURL = strings.TrimSpace(cfg.DefaultWebhookURL)
	return &WebhookNotifier{
		cfg:        cfg,
		orders:     orders,
		composer:   composer,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With("client", "WebhookNotifier"),
	}, nil
}

// Payload is the JSON body posted to the webhook.
type Payload struct {
	PurchaseOrderID uuid.UUID `json:"purchase_order_id"`
	OrganizationID  uuid.UUID `json:"organization_id"`
	Supplier        string    `json:"supplier,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	IsEmergency     bool      `json:"is_emergency"`
	Subject         string    `json:"subject"`
	Message         string    `json:"message"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, purchaseOrderID uuid.UUID) error {
	order, err := n.orders.GetOrderForNotification(ctx, purchaseOrderID)
	if err != nil {
		return fmt.Errorf("load order for notification: %w", err)
	}

	url := n.cfg.DefaultWebhookURL
	p := Payload{
		PurchaseOrderID: order.OrderID,
		OrganizationID:  order.OrganizationID,
		IsEmergency:     order.IsEmergency,
	}
	if s := order.Supplier; s != nil {
		p.Supplier = s.Name
		if s.WebhookURL != nil && strings.TrimSpace(*s.WebhookURL) != "" {
			url = strings.TrimSpace(*s.WebhookURL)
		}
		if s.Phone != nil {
			p.Phone = *s.Phone
		}
		if s.Email != nil {
			p.Email = *s.Email
		}
	}
	if url == "" {
		return ErrNoChannel
	}

	msg, err := n.composer.Compose(ctx, *order)
	if err != nil {
		return fmt.Errorf("compose supplier message: %w", err)
	}
	p.Subject = msg.Subject
	p.Message = msg.Body

	return n.post(ctx, url, p)
}

// HTTPError is a non-2xx webhook response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		body = "<empty body>"
	}
	return fmt.Sprintf("webhook http %d: %s", e.StatusCode, body)
}

// retryable reports whether a failed attempt may be repeated. Once the caller's context is done nothing is.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode == http.StatusTooManyRequests || he.StatusCode >= 500
	}
	return true
}

func (n *WebhookNotifier) post(ctx context.Context, url string, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	backoff := n.cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := n.postOnce(ctx, url, body)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) || attempt >= n.cfg.MaxRetries {
			return err
		}

		n.log.Warn("webhook retrying",
			"purchase_order_id", p.PurchaseOrderID,
			"attempt", attempt+1,
			"max_retries", n.cfg.MaxRetries,
			"sleep", backoff.String(),
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (n *WebhookNotifier) postOnce(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return nil
}
