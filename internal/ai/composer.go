package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"

	"reorder-engine/internal/core"
	"reorder-engine/internal/logger"
)

// SupplierMessage is the text sent to a supplier for one purchase order.
type SupplierMessage struct {
	Subject string `json:"subject" jsonschema:"description=One-line subject naming the buyer location and urgency"`
	Body    string `json:"body" jsonschema:"description=Plain-text order message listing every item with quantity and unit"`
}

// MessageComposer turns an order into a supplier message.
type MessageComposer interface {
	Compose(ctx context.Context, n core.OrderNotification) (*SupplierMessage, error)
}

// TemplateComposer builds a fixed-format message with no external calls.
type TemplateComposer struct{}

func (TemplateComposer) Compose(_ context.Context, n core.OrderNotification) (*SupplierMessage, error) {
	if len(n.Lines) == 0 {
		return nil, fmt.Errorf("order %s has no items", n.OrderID)
	}

	subject := "Purchase order for " + n.LocationName
	if n.IsEmergency {
		subject = "URGENT: " + subject
	}

	var b strings.Builder
	greeting := "Hello"
	if n.Supplier != nil && n.Supplier.Name != "" {
		greeting = "Hello " + n.Supplier.Name
	}
	fmt.Fprintf(&b, "%s,\n\nPlease deliver the following to %s:\n", greeting, n.LocationName)
	for _, l := range n.Lines {
		unit := l.Unit
		if unit == "" {
			unit = "units"
		}
		fmt.Fprintf(&b, "- %s %s %s\n", l.Quantity.String(), unit, l.ProductName)
	}
	if n.IsEmergency {
		b.WriteString("\nStock is critically low; please deliver as soon as possible.\n")
	}
	fmt.Fprintf(&b, "\nOrder reference: %s\n", n.OrderID)

	return &SupplierMessage{Subject: subject, Body: b.String()}, nil
}

// OpenAIComposer asks the model for a message in a strict JSON schema and falls back to
// the template on any failure.
type OpenAIComposer struct {
	client   *openai.Client
	model    string
	fallback MessageComposer
	log      *logger.Logger
}

func NewOpenAIComposer(apiKey, model string, log *logger.Logger) *OpenAIComposer {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	if model == "" {
		model = string(shared.ChatModelGPT4oMini)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAIComposer{client: &client, model: model, fallback: TemplateComposer{}, log: log}
}

func (c *OpenAIComposer) Compose(ctx context.Context, n core.OrderNotification) (*SupplierMessage, error) {
	msg, err := c.compose(ctx, n)
	if err != nil {
		c.log.Warn("ai message composition failed, using template", "purchase_order_id", n.OrderID, "error", err)
		return c.fallback.Compose(ctx, n)
	}
	return msg, nil
}

func (c *OpenAIComposer) compose(ctx context.Context, n core.OrderNotification) (*SupplierMessage, error) {
	draft, err := TemplateComposer{}.Compose(ctx, n)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`You write purchase order messages from a restaurant to its supplier.
Rewrite the draft below as a short, polite message. Keep every item, quantity and unit exactly as given.
Do not invent prices, dates or items. Keep the order reference line.

Subject: %s

%s`, draft.Subject, draft.Body)

	schemaMap, err := messageSchema()
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "supplier_message",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A purchase order message addressed to a supplier"),
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}
	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var msg SupplierMessage
	if err := json.Unmarshal([]byte(content), &msg); err != nil {
		return nil, fmt.Errorf("parse supplier message: %w", err)
	}
	if err := checkMessage(msg, n); err != nil {
		return nil, err
	}
	return &msg, nil
}

// checkMessage rejects model output that dropped an item or its quantity.
func checkMessage(msg SupplierMessage, n core.OrderNotification) error {
	if strings.TrimSpace(msg.Subject) == "" || strings.TrimSpace(msg.Body) == "" {
		return fmt.Errorf("supplier message is empty")
	}
	for _, l := range n.Lines {
		if !strings.Contains(msg.Body, l.ProductName) || !strings.Contains(msg.Body, l.Quantity.String()) {
			return fmt.Errorf("supplier message is missing %s x %s", l.Quantity, l.ProductName)
		}
	}
	return nil
}

func messageSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(SupplierMessage{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return m, nil
}
