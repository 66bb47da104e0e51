// Package media extrae el audio de un vídeo con yt-dlp y corta segmentos con ffmpeg.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// Config apunta a los binarios externos y al directorio de trabajo.
type Config struct {
	WorkDir string
	YtDlp   string // default "yt-dlp"
	FFmpeg  string // default "ffmpeg"
	FFprobe string // default "ffprobe"
}

// Runner ejecuta un comando y devuelve su stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Exec implementa ports.MediaSource con procesos externos.
type Exec struct {
	cfg Config
	run Runner
}

// NewExec crea la fuente de media.
func NewExec(cfg Config) *Exec {
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), "contrabot")
	}
	if cfg.YtDlp == "" {
		cfg.YtDlp = "yt-dlp"
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = "ffmpeg"
	}
	if cfg.FFprobe == "" {
		cfg.FFprobe = "ffprobe"
	}
	return &Exec{cfg: cfg, run: runCommand}
}

// WithRunner reemplaza la ejecución de procesos (tests).
func (e *Exec) WithRunner(r Runner) *Exec {
	e.run = r
	return e
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(lastLine(stderr.String())))
	}
	return stdout.Bytes(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (e *Exec) itemDir(item domain.Item) string {
	return filepath.Join(e.cfg.WorkDir, item.ID)
}

// Fetch descarga el audio del item como mp3 y mide tamaño y duración.
func (e *Exec) Fetch(ctx context.Context, item domain.Item) (domain.Media, error) {
	dir := e.itemDir(item)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Media{}, fmt.Errorf("media.Fetch: %w", err)
	}
	out := filepath.Join(dir, "audio.mp3")
	_ = os.Remove(out)

	slog.Info("extracting audio", "item_id", item.ID, "url", item.SourceURL)
	if _, err := e.run(ctx, e.cfg.YtDlp,
		"--no-playlist", "--quiet", "--no-warnings",
		"-f", "bestaudio/best",
		"-x", "--audio-format", "mp3",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		item.SourceURL,
	); err != nil {
		return domain.Media{}, fmt.Errorf("media.Fetch %s: %w", item.ID, err)
	}

	info, err := os.Stat(out)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media.Fetch %s: audio file missing after extraction: %w", item.ID, err)
	}
	dur, err := e.duration(ctx, out)
	if err != nil {
		return domain.Media{}, fmt.Errorf("media.Fetch %s: %w", item.ID, err)
	}

	slog.Info("audio ready", "item_id", item.ID, "size_mb", float64(info.Size())/(1024*1024), "duration", dur)
	return domain.Media{Path: out, Size: info.Size(), Duration: dur}, nil
}

func (e *Exec) duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := e.run(ctx, e.cfg.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Cut copia el segmento seg de m a su propio archivo, sin recodificar.
func (e *Exec) Cut(ctx context.Context, m domain.Media, seg domain.Segment) (string, error) {
	out := filepath.Join(filepath.Dir(m.Path), fmt.Sprintf("chunk_%03d.mp3", seg.Index))
	if _, err := e.run(ctx, e.cfg.FFmpeg,
		"-y", "-v", "error",
		"-ss", formatSeconds(seg.Start),
		"-t", formatSeconds(seg.Len),
		"-i", m.Path,
		"-acodec", "copy",
		out,
	); err != nil {
		return "", fmt.Errorf("media.Cut chunk %d: %w", seg.Index, err)
	}
	return out, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// Cleanup borra todos los archivos temporales del item.
func (e *Exec) Cleanup(item domain.Item) error {
	if err := os.RemoveAll(e.itemDir(item)); err != nil {
		return fmt.Errorf("media.Cleanup %s: %w", item.ID, err)
	}
	return nil
}
