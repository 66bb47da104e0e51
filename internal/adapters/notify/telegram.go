package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/retry"
)

const defaultTelegramBase = "https://api.telegram.org"

// Telegram implementa ports.Notifier con el Bot API (sendMessage).
type Telegram struct {
	http      *http.Client
	baseURL   string
	token     string
	channelID string
	limiter   *rate.Limiter
	retry     retry.Policy
}

// NewTelegram crea el notificador. baseURL vacío usa la API pública.
func NewTelegram(baseURL, token, channelID string) *Telegram {
	if baseURL == "" {
		baseURL = defaultTelegramBase
	}
	return &Telegram{
		http:      &http.Client{Timeout: 15 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		channelID: channelID,
		// Telegram permite ~20 mensajes/min por canal.
		limiter: rate.NewLimiter(rate.Every(3*time.Second), 1),
		retry:   retry.Policy{Attempts: 3, BaseWait: time.Second},
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify envía el mensaje formateado al canal.
func (t *Telegram) Notify(ctx context.Context, n domain.Notification) error {
	return t.Send(ctx, FormatMessage(n))
}

// Send publica text en el canal configurado.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID: t.channelID, Text: text, ParseMode: "Markdown", DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram.Send: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	err = retry.Do(ctx, t.retry, "telegram sendMessage", func(ctx context.Context) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		var out telegramResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, &out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
		}
		if !out.OK {
			return retry.Permanent(fmt.Errorf("api error %d: %s", resp.StatusCode, out.Description))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("telegram.Send: %w", err)
	}
	return nil
}
