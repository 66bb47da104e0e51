package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/contrabot/internal/retry"
)

const (
	defaultBaseURL         = "https://api.openai.com/v1"
	defaultTranscribeModel = "whisper-1"
	defaultAnalysisModel   = "gpt-4o-mini"
	defaultLanguage        = "ko"

	// Muy por debajo del límite de la cuenta: las llamadas son pocas y largas.
	defaultRatePerSec = 2
)

// Config configura el cliente de OpenAI.
type Config struct {
	BaseURL         string
	APIKey          string
	TranscribeModel string
	AnalysisModel   string
	Language        string
	RatePerSec      float64
	Timeout         time.Duration // timeout del http.Client; los reintentos los hace el llamador
}

// Client es el HTTP client de OpenAI con rate limiting. Hace un único intento por
// llamada y clasifica el error: 429/5xx/red son reintentables, el resto no.
type Client struct {
	http    *http.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewClient crea un Client rellenando los valores por defecto.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = defaultTranscribeModel
	}
	if cfg.AnalysisModel == "" {
		cfg.AnalysisModel = defaultAnalysisModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}
}

// do envía la request construida por build y decodifica la respuesta JSON en out.
func (c *Client) do(ctx context.Context, build func(ctx context.Context) (*http.Request, error), out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := build(ctx)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("rate limited by API", "url", req.URL.Path)
		return fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return retry.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
