package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"github.com/shopspring/decimal"

	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/xid"
)

type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey string, model string) *OpenAIGenerator {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIGenerator{client: &client, model: model}
}

type reportPayload struct {
	Summary       string   `json:"summary" jsonschema_description:"Two to three sentence overview of the business state"`
	Opportunities []string `json:"opportunities" jsonschema_description:"Concrete growth opportunities"`
	Risks         []string `json:"risks" jsonschema_description:"Concrete business risks"`
	Actions       []string `json:"actions" jsonschema_description:"Recommended next actions"`
}

type deckRow struct {
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	Category         string   `json:"category"`
	MRP              string   `json:"mrp" jsonschema_description:"Printed maximum retail price, digits only, empty if absent"`
	BasicPrice       string   `json:"basic_price" jsonschema_description:"Dealer basic price before tax, digits only"`
	GSTPercent       string   `json:"gst_percent"`
	UpfrontDiscounts []scheme `json:"upfront_discounts"`
	BackendDiscounts []scheme `json:"backend_discounts"`
}

type scheme struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

type deckPayload struct {
	Items []deckRow `json:"items"`
}

func (g *OpenAIGenerator) GenerateReport(ctx context.Context, snapshot Snapshot) (*domain.InsightReport, error) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(`You are a business analyst for an electronics trading hub that buys
from brands and distributes serialized stock to partner retailers.
Analyze the snapshot below and produce a short report.
Keep every list to at most four entries, each a single sentence.

Snapshot:
%s`, snapshotJSON)

	var payload reportPayload
	if err := g.structuredCall(ctx, prompt, "business_insight_report", "A short insight report over a trading snapshot", &payload); err != nil {
		return nil, err
	}

	return &domain.InsightReport{
		ID:            xid.New("rep"),
		Summary:       payload.Summary,
		Opportunities: payload.Opportunities,
		Risks:         payload.Risks,
		Actions:       payload.Actions,
		GeneratedAt:   time.Now().UTC(),
	}, nil
}

func (g *OpenAIGenerator) ParsePriceDeck(ctx context.Context, text string) ([]domain.PriceItemCreateRequest, error) {
	prompt := fmt.Sprintf(`Extract price-deck rows from the raw text below. Each row describes one
product model with its dealer basic price, GST percentage, and any upfront
or backend scheme discounts. Amounts are plain digit strings without
currency symbols or separators. Skip lines that are not product rows.

Raw text:
%s`, text)

	var payload deckPayload
	if err := g.structuredCall(ctx, prompt, "price_deck_rows", "Structured rows extracted from a brand price deck", &payload); err != nil {
		return nil, err
	}

	items := make([]domain.PriceItemCreateRequest, 0, len(payload.Items))
	for _, row := range payload.Items {
		item := domain.PriceItemCreateRequest{
			Manufacturer: row.Manufacturer,
			Model:        row.Model,
			Category:     row.Category,
		}
		if v, err := decimal.NewFromString(row.MRP); err == nil {
			item.MRP = v
		}
		if v, err := decimal.NewFromString(row.BasicPrice); err == nil {
			item.BasicPrice = v
		}
		if v, err := decimal.NewFromString(row.GSTPercent); err == nil {
			item.GSTPercent = v
		}
		for _, d := range row.UpfrontDiscounts {
			if v, err := decimal.NewFromString(d.Amount); err == nil {
				item.UpfrontDiscounts = append(item.UpfrontDiscounts, domain.SchemeDiscount{Name: d.Name, Amount: v})
			}
		}
		for _, d := range row.BackendDiscounts {
			if v, err := decimal.NewFromString(d.Amount); err == nil {
				item.BackendDiscounts = append(item.BackendDiscounts, domain.SchemeDiscount{Name: d.Name, Amount: v})
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func (g *OpenAIGenerator) structuredCall(ctx context.Context, prompt string, name string, description string, out any) error {
	schemaStruct := generateSchema(out)
	schemaJSON, err := json.Marshal(schemaStruct)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return fmt.Errorf("unmarshal schema to map: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(g.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        name,
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt(description),
				},
			},
		},
	}

	resp, err := g.client.Responses.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return fmt.Errorf("empty response content")
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("parse completion: %w", err)
	}
	return nil
}

func generateSchema(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}
