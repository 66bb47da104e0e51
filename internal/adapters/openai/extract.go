package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/retry"
)

// Extractor implementa ports.SignalExtractor con chat completions en modo JSON.
type Extractor struct {
	c *Client
}

// NewExtractor crea un Extractor sobre c.
func NewExtractor(c *Client) *Extractor {
	return &Extractor{c: c}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract pide al modelo el payload estructurado de la señal. Una respuesta que no
// es JSON válido devuelve domain.ErrInvalidSignal y no se reintenta.
func (e *Extractor) Extract(ctx context.Context, item domain.Item, transcript string) (domain.SignalPayload, error) {
	body, err := json.Marshal(chatRequest{
		Model: e.c.cfg.AnalysisModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(item, transcript)},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return domain.SignalPayload{}, fmt.Errorf("openai.Extract: marshal: %w", err)
	}

	var out chatResponse
	err = e.c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, &out)
	if err != nil {
		return domain.SignalPayload{}, fmt.Errorf("openai.Extract %s: %w", item.ID, err)
	}
	if len(out.Choices) == 0 {
		return domain.SignalPayload{}, fmt.Errorf("openai.Extract %s: empty choices", item.ID)
	}

	return ParsePayload(out.Choices[0].Message.Content)
}

// ParsePayload decodifica el contenido JSON del modelo, tolerando un bloque ```json.
func ParsePayload(content string) (domain.SignalPayload, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var p domain.SignalPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.SignalPayload{}, retry.Permanent(
			fmt.Errorf("openai.ParsePayload: %v: %w", err, domain.ErrInvalidSignal))
	}
	p.Raw = json.RawMessage(raw)
	return p, nil
}
