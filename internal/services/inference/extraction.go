package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"cardmint/internal/queue"
)

const extractionPrompt = `You are a trading card scanner. Extract the card attributes from the photo.
Respond with JSON only, no prose, using this shape:
{"card_name":"...","hp_value":0,"collector_number":"...","set_name":"...","set_symbol":"...","rarity":"...","variant_tags":[],"language":"EN"}
Omit fields you cannot read. card_name is mandatory.`

const extractionSchemaJSON = `{
	"type": "object",
	"properties": {
		"card_name": {"type": "string", "minLength": 1},
		"hp_value": {"type": "integer", "minimum": 0},
		"collector_number": {"type": "string"},
		"set_name": {"type": "string"},
		"set_symbol": {"type": "string"},
		"rarity": {"type": "string"},
		"variant_tags": {"type": "array", "items": {"type": "string"}},
		"language": {"type": "string"}
	},
	"required": ["card_name"],
	"additionalProperties": true
}`

var extractionSchema = jsonschema.MustCompileString("extraction.json", extractionSchemaJSON)

// DecodeExtraction parses and validates a model response into an Extraction.
// Code fences and surrounding prose are tolerated; schema violations are not.
func DecodeExtraction(content string) (queue.Extraction, error) {
	var empty queue.Extraction
	payload := sanitizeJSONPayload(content)
	if payload == "" {
		return empty, errors.New("decode extraction: empty payload")
	}

	var generic any
	if err := json.Unmarshal([]byte(payload), &generic); err != nil {
		return empty, fmt.Errorf("decode extraction: %w (payload snippet: %s)", err, payloadSnippet(payload))
	}
	if err := extractionSchema.Validate(generic); err != nil {
		return empty, fmt.Errorf("decode extraction: schema: %w", err)
	}

	var extracted queue.Extraction
	decoder := json.NewDecoder(bytes.NewReader([]byte(payload)))
	if err := decoder.Decode(&extracted); err != nil {
		return empty, fmt.Errorf("decode extraction: %w", err)
	}
	extracted.CardName = strings.TrimSpace(extracted.CardName)
	if extracted.CardName == "" {
		return empty, errors.New("decode extraction: card_name missing")
	}
	return extracted, nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func payloadSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	if clean == "" {
		return "<empty>"
	}
	return clean
}
