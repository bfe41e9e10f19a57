package notes

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/MrWong99/notesmcp/internal/notes/cache"
	"github.com/MrWong99/notesmcp/internal/observe"
)

// Service implements the note operations exposed as tools. Searches are
// cached for a short TTL and the cache is dropped after every insert, so a
// search issued after a successful AddNote always reaches the store.
type Service struct {
	store   Store
	cache   *cache.Cache[[]Note]
	metrics *observe.Metrics
}

// ServiceOption configures a [Service].
type ServiceOption func(*Service)

// WithCache replaces the default search cache.
func WithCache(c *cache.Cache[[]Note]) ServiceOption {
	return func(s *Service) { s.cache = c }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service backed by store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store}
	for _, o := range opts {
		o(s)
	}
	if s.cache == nil {
		s.cache = cache.New[[]Note](cache.DefaultSize, cache.DefaultTTL)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// AddNote stores a note. Tags are sanitised first. On success the search
// cache is invalidated and Data holds {"inserted": [note]}.
func (s *Service) AddNote(ctx context.Context, content, title string, tags []string) Result {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(title) == "" {
		return Fail(CodeInvalidArgument, "content e title são obrigatórios")
	}
	n, err := s.store.Insert(ctx, NewNote{Title: title, Content: content, Tags: SanitizeTags(tags)})
	if err != nil {
		observe.Logger(ctx).Error("notes: insert failed", slog.Any("err", err))
		return Fail(CodeToolFailed, err.Error())
	}
	s.cache.Invalidate()
	return OK(map[string]any{"inserted": []Note{n}})
}

// SearchNotes looks up notes by content, title and tags. Data holds
// {"results": []Note, "cached": bool}.
func (s *Service) SearchNotes(ctx context.Context, query, title string, tags []string) Result {
	f := Filter{
		Query: strings.TrimSpace(query),
		Title: strings.TrimSpace(title),
		Tags:  SanitizeTags(tags),
	}
	key := cacheKey(f)
	if hit, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(ctx, true)
		return OK(map[string]any{"results": hit, "cached": true})
	}
	s.metrics.RecordCacheLookup(ctx, false)

	// An insert that lands while the store is read must not leave this
	// result behind in the cache.
	gen := s.cache.Generation()
	found, err := s.store.Search(ctx, f)
	if err != nil {
		observe.Logger(ctx).Error("notes: search failed", slog.Any("err", err))
		return Fail(CodeToolFailed, err.Error())
	}
	if found == nil {
		found = []Note{}
	}
	s.cache.PutIfGen(key, found, gen)
	return OK(map[string]any{"results": found, "cached": false})
}

// cacheKey is stable under tag order.
func cacheKey(f Filter) string {
	tags := slices.Clone(f.Tags)
	slices.Sort(tags)
	return f.Query + "\x00" + f.Title + "\x00" + strings.Join(tags, ",")
}
