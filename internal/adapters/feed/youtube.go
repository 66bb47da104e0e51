// Package feed lee el feed Atom de un canal de YouTube.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/alejandrodnm/contrabot/internal/domain"
)

const channelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id="

// YouTube implementa ports.FeedProvider.
type YouTube struct {
	url    string
	parser *gofeed.Parser
	now    func() time.Time
}

// NewYouTube crea el provider. feedURL tiene prioridad sobre channelID.
func NewYouTube(channelID, feedURL string) *YouTube {
	if feedURL == "" {
		feedURL = channelFeedURL + channelID
	}
	p := gofeed.NewParser()
	p.Client = &http.Client{Timeout: 30 * time.Second}
	return &YouTube{url: feedURL, parser: p, now: func() time.Time { return time.Now().UTC() }}
}

// FetchItems devuelve los vídeos visibles, el más antiguo primero.
func (y *YouTube) FetchItems(ctx context.Context) ([]domain.Item, error) {
	f, err := y.parser.ParseURLWithContext(y.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("feed.FetchItems: %w", err)
	}
	return itemsFromFeed(f, y.now()), nil
}

func itemsFromFeed(f *gofeed.Feed, detected time.Time) []domain.Item {
	items := make([]domain.Item, 0, len(f.Items))
	for _, it := range f.Items {
		id := videoID(it)
		if id == "" {
			continue
		}
		item := domain.Item{
			ID:         id,
			Title:      strings.TrimSpace(it.Title),
			SourceURL:  it.Link,
			DetectedAt: detected,
		}
		if it.PublishedParsed != nil {
			item.PublishedAt = it.PublishedParsed.UTC()
		}
		if item.SourceURL == "" {
			item.SourceURL = WatchURL(id)
		}
		items = append(items, item)
	}
	// El feed viene del más nuevo al más viejo.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})
	return items
}

// videoID usa <yt:videoId> y, si falta, el id "yt:video:XXXX" de la entrada.
func videoID(it *gofeed.Item) string {
	if yt, ok := it.Extensions["yt"]; ok {
		if v := yt["videoId"]; len(v) > 0 && v[0].Value != "" {
			return v[0].Value
		}
	}
	if rest, ok := strings.CutPrefix(it.GUID, "yt:video:"); ok {
		return rest
	}
	return ""
}

// WatchURL devuelve la URL canónica de un vídeo.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// ItemFromURL construye un item a partir de una URL de vídeo o de un id pelado:
// acepta watch?v=, youtu.be/ID, /shorts/ID y /live/ID.
func ItemFromURL(raw string) (domain.Item, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.Item{}, fmt.Errorf("feed.ItemFromURL: empty url")
	}
	if !strings.Contains(raw, "/") && !strings.Contains(raw, "?") {
		return domain.Item{ID: raw, SourceURL: WatchURL(raw)}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.Item{}, fmt.Errorf("feed.ItemFromURL: %w", err)
	}
	id := u.Query().Get("v")
	if id == "" {
		id = path.Base(strings.TrimRight(u.Path, "/"))
	}
	if id == "" || id == "." || id == "/" || id == "watch" {
		return domain.Item{}, fmt.Errorf("feed.ItemFromURL: no video id in %q", raw)
	}
	return domain.Item{ID: id, SourceURL: WatchURL(id)}, nil
}
