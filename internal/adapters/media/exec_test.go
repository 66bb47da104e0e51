package media_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/contrabot/internal/adapters/media"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner simula yt-dlp (escribe el mp3), ffprobe (duración) y ffmpeg.
type fakeRunner struct {
	calls [][]string
	fail  string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if name == f.fail {
		return nil, errors.New(name + " exploded")
	}
	switch name {
	case "yt-dlp":
		tmpl := args[indexOf(args, "-o")+1]
		return nil, os.WriteFile(strings.Replace(tmpl, "%(ext)s", "mp3", 1), []byte("ID3audio"), 0o600)
	case "ffprobe":
		return []byte("2400.500000\n"), nil
	}
	return nil, nil
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func TestExec_FetchCutCleanup(t *testing.T) {
	dir := t.TempDir()
	fr := &fakeRunner{}
	src := media.NewExec(media.Config{WorkDir: dir}).WithRunner(fr.run)
	item := domain.Item{ID: "vid1", SourceURL: "https://www.youtube.com/watch?v=vid1"}

	m, err := src.Fetch(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vid1", "audio.mp3"), m.Path)
	assert.EqualValues(t, len("ID3audio"), m.Size)
	assert.Equal(t, 2400500*time.Millisecond, m.Duration)

	out, err := src.Cut(context.Background(), m, domain.Segment{Index: 2, Start: 20 * time.Minute, Len: 10 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "vid1", "chunk_002.mp3"), out)
	last := fr.calls[len(fr.calls)-1]
	assert.Equal(t, "ffmpeg", last[0])
	assert.Equal(t, "1200.000", last[indexOf(last, "-ss")+1])
	assert.Equal(t, "600.000", last[indexOf(last, "-t")+1])

	require.NoError(t, src.Cleanup(item))
	_, err = os.Stat(filepath.Join(dir, "vid1"))
	assert.True(t, os.IsNotExist(err))
}

func TestExec_FetchFailure(t *testing.T) {
	fr := &fakeRunner{fail: "yt-dlp"}
	src := media.NewExec(media.Config{WorkDir: t.TempDir()}).WithRunner(fr.run)

	_, err := src.Fetch(context.Background(), domain.Item{ID: "x", SourceURL: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "yt-dlp exploded")
}
