package ports

import (
	"context"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

// MediaSource downloads an item's audio and cuts segments out of it.
type MediaSource interface {
	// Fetch extracts the audio of the item into a local file.
	Fetch(ctx context.Context, item domain.Item) (domain.Media, error)

	// Cut writes one segment of media to its own file and returns the path.
	Cut(ctx context.Context, media domain.Media, seg domain.Segment) (string, error)

	// Cleanup removes every temporary file produced for the item.
	Cleanup(item domain.Item) error
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
