package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/contrabot/internal/retry"
)

const (
	defaultChartBase = "https://query1.finance.yahoo.com"
	defaultSuffix    = ".KS" // KOSPI
)

// kst: las sesiones del KRX se fechan en hora de Seúl.
var kst = time.FixedZone("KST", 9*60*60)

// ErrNoClose: la fuente no tiene cierre para el instrumento en la ventana pedida.
var ErrNoClose = errors.New("no daily close")

// DailyConfig configura la fuente de cierres diarios.
type DailyConfig struct {
	BaseURL    string
	Suffix     string // sufijo del mercado en el símbolo: 069500 → 069500.KS
	RatePerSec float64
	Timeout    time.Duration
	Retry      retry.Policy
}

// DailyClose implementa ports.PriceProvider con el cierre del último día hábil,
// leído del endpoint chart de Yahoo Finance.
type DailyClose struct {
	http    *http.Client
	cfg     DailyConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// NewDailyClose crea el provider rellenando los valores por defecto.
func NewDailyClose(cfg DailyConfig) *DailyClose {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultChartBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Suffix == "" {
		cfg.Suffix = defaultSuffix
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &DailyClose{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		now:     time.Now,
	}
}

// WithClock fija el "hoy" contra el que se busca el último día hábil.
func (d *DailyClose) WithClock(now func() time.Time) *DailyClose {
	d.now = now
	return d
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Price devuelve el cierre del último día hábil (sin fines de semana) hasta hoy.
func (d *DailyClose) Price(ctx context.Context, instrument string) (float64, error) {
	var out chartResponse
	err := retry.Do(ctx, d.cfg.Retry, "daily close "+instrument, func(ctx context.Context) error {
		out = chartResponse{}
		return d.fetch(ctx, instrument, &out)
	})
	if err != nil {
		return 0, fmt.Errorf("prices.DailyClose %s: %w", instrument, err)
	}

	price, day, err := latestClose(out, d.now().In(kst))
	if err != nil {
		return 0, fmt.Errorf("prices.DailyClose %s: %w", instrument, err)
	}
	slog.Debug("daily close", "instrument", instrument, "date", day.Format("2006-01-02"), "close", price)
	return price, nil
}

func (d *DailyClose) fetch(ctx context.Context, instrument string, out *chartResponse) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?range=10d&interval=1d",
		d.cfg.BaseURL, url.PathEscape(instrument+d.cfg.Suffix))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("rate limited (429)")
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return retry.Permanent(fmt.Errorf("client error %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if e := out.Chart.Error; e != nil {
		return retry.Permanent(fmt.Errorf("api error %s: %s", e.Code, e.Description))
	}
	return nil
}

// latestClose recorre las velas de la más reciente a la más antigua y devuelve el
// primer cierre no nulo de un día laborable no posterior a today.
func latestClose(out chartResponse, today time.Time) (float64, time.Time, error) {
	if len(out.Chart.Result) == 0 || len(out.Chart.Result[0].Indicators.Quote) == 0 {
		return 0, time.Time{}, ErrNoClose
	}
	r := out.Chart.Result[0]
	closes := r.Indicators.Quote[0].Close
	end := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, kst).AddDate(0, 0, 1)

	for i := min(len(r.Timestamp), len(closes)) - 1; i >= 0; i-- {
		day := time.Unix(r.Timestamp[i], 0).In(kst)
		if !day.Before(end) {
			continue
		}
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if c := closes[i]; c != nil && *c > 0 {
			return *c, day, nil
		}
	}
	return 0, time.Time{}, ErrNoClose
}
