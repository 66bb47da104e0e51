// Package httpapi expone el contrato de lectura del ledger como JSON.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// LedgerReader es lo que la API necesita del ledger.
type LedgerReader interface {
	ListTrades(ctx context.Context, limit int) ([]domain.Trade, error)
	ListPositions(ctx context.Context) ([]domain.Position, error)
	GetPerformance(ctx context.Context) (domain.PerformanceSnapshot, error)
}

const defaultTradesLimit = 50

// NewRouter registra las rutas de lectura.
func NewRouter(ledger LedgerReader) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/trades", func(c *gin.Context) {
			limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultTradesLimit)))
			if err != nil || limit < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			trades, err := ledger.ListTrades(c.Request.Context(), limit)
			if err != nil {
				internalError(c, err)
				return
			}
			out := make([]tradeView, 0, len(trades))
			for _, t := range trades {
				out = append(out, newTradeView(t))
			}
			c.JSON(http.StatusOK, out)
		})

		api.GET("/positions", func(c *gin.Context) {
			positions, err := ledger.ListPositions(c.Request.Context())
			if err != nil {
				internalError(c, err)
				return
			}
			out := make([]positionView, 0, len(positions))
			for _, p := range positions {
				out = append(out, newPositionView(p))
			}
			c.JSON(http.StatusOK, out)
		})

		api.GET("/performance", func(c *gin.Context) {
			snap, err := ledger.GetPerformance(c.Request.Context())
			if err != nil {
				internalError(c, err)
				return
			}
			c.JSON(http.StatusOK, newPerformanceView(snap))
		})
	}
	return r
}

func internalError(c *gin.Context, err error) {
	slog.Error("api request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// Serve arranca el servidor y lo apaga cuando ctx termina.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("read API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
