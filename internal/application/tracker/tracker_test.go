package tracker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alejandrodnm/contrabot/internal/adapters/storage"
	"github.com/alejandrodnm/contrabot/internal/application/tracker"
	"github.com/alejandrodnm/contrabot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 5, 12, 8, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) *tracker.Tracker {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return tracker.New(db).WithClock(func() time.Time { return now })
}

func video(id string) domain.Item {
	return domain.Item{ID: id, Title: "video " + id, SourceURL: "https://www.youtube.com/watch?v=" + id}
}

func TestTracker_MarkSeenTwice(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.MarkSeen(ctx, video("a"), false))
	assert.ErrorIs(t, tr.MarkSeen(ctx, video("a"), false), domain.ErrDuplicateItem)

	renamed := video("a")
	renamed.Title = "renamed"
	require.NoError(t, tr.MarkSeen(ctx, renamed, true))

	seen, err := tr.HasSeen(ctx, "a")
	require.NoError(t, err)
	assert.True(t, seen)
	processed, err := tr.IsProcessed(ctx, "a")
	require.NoError(t, err)
	assert.False(t, processed, "override must not touch the processed flag")
}

func TestTracker_UnknownItem(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	seen, err := tr.HasSeen(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, seen)
	processed, err := tr.IsProcessed(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestTracker_BootstrapOnlyOnce(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	n, seeded, err := tr.Bootstrap(ctx, []domain.Item{video("a"), video("b")})
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, 2, n)

	pending, err := tr.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "back-catalog must never be processed")

	n, seeded, err = tr.Bootstrap(ctx, []domain.Item{video("c")})
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Zero(t, n)

	seen, err := tr.HasSeen(ctx, "c")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestTracker_SingleItemDoesNotCountAsBootstrap(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	// Un item procesado a mano antes del primer run del feed.
	require.NoError(t, tr.MarkSeen(ctx, video("manual"), false))
	require.NoError(t, tr.MarkProcessed(ctx, "manual", domain.OutcomeProcessed, nil))

	n, seeded, err := tr.Bootstrap(ctx, []domain.Item{video("manual"), video("old1"), video("old2")})
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, 2, n)

	pending, err := tr.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, seeded, err = tr.Bootstrap(ctx, []domain.Item{video("new")})
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestTracker_EmptyFeedStillBootstraps(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	_, seeded, err := tr.Bootstrap(ctx, nil)
	require.NoError(t, err)
	assert.True(t, seeded)

	_, seeded, err = tr.Bootstrap(ctx, []domain.Item{video("first")})
	require.NoError(t, err)
	assert.False(t, seeded, "items published after an empty first run are new")
}

func TestTracker_FailedStaysPending(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.MarkSeen(ctx, video("a"), false))
	require.NoError(t, tr.MarkFailed(ctx, "a", assert.AnError))

	pending, err := tr.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, assert.AnError.Error(), pending[0].LastError)

	require.NoError(t, tr.MarkProcessed(ctx, "a", domain.OutcomeSkipped, nil))
	pending, err = tr.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTracker_MarkProcessedRejectsDeferred(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.MarkSeen(ctx, video("a"), false))

	assert.Error(t, tr.MarkProcessed(ctx, "a", domain.OutcomeDeferred, nil))
	processed, err := tr.IsProcessed(ctx, "a")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestTracker_ExportHistory(t *testing.T) {
	tr := newTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.MarkSeen(ctx, video("a"), false))
	require.NoError(t, tr.MarkSeen(ctx, video("b"), false))
	summary := "bullish talk"
	require.NoError(t, tr.MarkProcessed(ctx, "a", domain.OutcomeProcessed, &summary))

	var buf bytes.Buffer
	require.NoError(t, tr.ExportHistory(ctx, &buf))

	var doc []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc, 2)
	assert.Equal(t, "a", doc[0]["id"])
	assert.Equal(t, true, doc[0]["processed"])
	assert.Equal(t, "processed", doc[0]["outcome"])
	assert.Equal(t, false, doc[1]["processed"])
	assert.Equal(t, true, doc[1]["seen"])
}
