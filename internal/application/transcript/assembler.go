// Package transcript turns an item's media into one transcript, cutting it into
// fixed-duration chunks when the file is too large for a single transcription call.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/alejandrodnm/contrabot/internal/ports"
	"github.com/alejandrodnm/contrabot/internal/retry"
)

// MaxSingleShotBytes es el límite de tamaño del endpoint de transcripción.
const MaxSingleShotBytes int64 = 25 * 1024 * 1024

// Strategy is how a media file gets transcribed.
type Strategy string

const (
	SingleShot Strategy = "SINGLE_SHOT"
	Chunked    Strategy = "CHUNKED"
)

// Config parametriza el ensamblado.
type Config struct {
	ChunkLen  time.Duration // default 10m
	Workers   int           // chunks transcritos en paralelo; default 3
	Separator string        // default " "
	Retry     retry.Policy
}

// Transcript is the assembled text of one item.
type Transcript struct {
	Text     string
	Strategy Strategy
	Chunks   int
}

// Assembler cuts and transcribes media.
type Assembler struct {
	media       ports.MediaSource
	transcriber ports.Transcriber
	cfg         Config
}

// New creates an Assembler, filling zero config values with defaults.
func New(media ports.MediaSource, transcriber ports.Transcriber, cfg Config) *Assembler {
	if cfg.ChunkLen <= 0 {
		cfg.ChunkLen = 10 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.Separator == "" {
		cfg.Separator = " "
	}
	return &Assembler{media: media, transcriber: transcriber, cfg: cfg}
}

// StrategyFor picks SINGLE_SHOT up to MaxSingleShotBytes, CHUNKED above.
func StrategyFor(size int64) Strategy {
	if size <= MaxSingleShotBytes {
		return SingleShot
	}
	return Chunked
}

// Plan splits duration into consecutive segments of chunkLen; the last may be shorter.
func Plan(duration, chunkLen time.Duration) []domain.Segment {
	if duration <= 0 || chunkLen <= 0 {
		return nil
	}
	n := int((duration + chunkLen - 1) / chunkLen)
	segs := make([]domain.Segment, 0, n)
	for i := 0; i < n; i++ {
		start := time.Duration(i) * chunkLen
		l := chunkLen
		if rest := duration - start; rest < l {
			l = rest
		}
		segs = append(segs, domain.Segment{Index: i, Start: start, Len: l})
	}
	return segs
}

// Assemble transcribes m. With CHUNKED every segment must succeed: a chunk that
// exhausts its retries fails the whole item with *domain.ChunkTranscriptionError
// and no partial text is returned.
func (a *Assembler) Assemble(ctx context.Context, m domain.Media) (Transcript, error) {
	strategy := StrategyFor(m.Size)
	if strategy == SingleShot {
		text, err := a.transcribe(ctx, m.Path, "transcribe")
		if err != nil {
			return Transcript{}, fmt.Errorf("transcript.Assemble: %w", err)
		}
		return Transcript{Text: text, Strategy: SingleShot, Chunks: 1}, nil
	}

	segs := Plan(m.Duration, a.cfg.ChunkLen)
	if len(segs) == 0 {
		return Transcript{}, fmt.Errorf("transcript.Assemble: media %s over size limit with unknown duration", m.Path)
	}
	slog.Info("transcribing in chunks", "chunks", len(segs), "size_mb", m.Size/(1024*1024), "workers", a.cfg.Workers)

	// Cada goroutine escribe solo su índice; el orden final no depende del orden de llegada.
	// El texto de cada chunk se guarda tal cual: los cortes no se corrigen.
	texts := make([]string, len(segs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for _, seg := range segs {
		g.Go(func() error {
			text, err := a.chunk(gctx, m, seg)
			if err != nil {
				return &domain.ChunkTranscriptionError{Index: seg.Index, Total: len(segs), Err: err}
			}
			texts[seg.Index] = text
			slog.Debug("chunk transcribed", "chunk", seg.Index+1, "of", len(segs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Transcript{}, fmt.Errorf("transcript.Assemble: %w", err)
	}

	return Transcript{
		Text:     strings.Join(texts, a.cfg.Separator),
		Strategy: Chunked,
		Chunks:   len(segs),
	}, nil
}

func (a *Assembler) chunk(ctx context.Context, m domain.Media, seg domain.Segment) (string, error) {
	path, err := a.media.Cut(ctx, m, seg)
	if err != nil {
		return "", fmt.Errorf("cut: %w", err)
	}
	return a.transcribe(ctx, path, fmt.Sprintf("transcribe chunk %d", seg.Index+1))
}

func (a *Assembler) transcribe(ctx context.Context, path, op string) (string, error) {
	var text string
	err := retry.Do(ctx, a.cfg.Retry, op, func(ctx context.Context) error {
		t, err := a.transcriber.Transcribe(ctx, path)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return retry.Permanent(err)
			}
			return err
		}
		text = t
		return nil
	})
	return text, err
}
