package session

import (
	"context"
	"strconv"
	"sync"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/refresh"
)

// Fetch parameters understood by news containers.
const (
	ParamPage   = "page"
	ParamReset  = "reset"
	ParamQuery  = "query"
	ParamMethod = "method"
	ParamType   = "type"
)

// NewsFeed is one paged news feed shared by all devices.
type NewsFeed struct {
	kind      domain.NewsType
	src       dut.Source
	container *refresh.Container[[]domain.NewsItem]

	mu       sync.Mutex
	nextPage int
	latest   []domain.NewsItem
}

// NewNewsFeed creates the feed of kind.
func NewNewsFeed(kind domain.NewsType, src dut.Source, cfg Config) (*NewsFeed, error) {
	cfg = cfg.withDefaults()
	f := &NewsFeed{kind: kind, src: src, nextPage: 1}
	c, err := refresh.New(f.fetch, cfg.options("news."+string(kind))...)
	if err != nil {
		return nil, err
	}
	f.container = c
	return f, nil
}

// Kind returns the feed type.
func (f *NewsFeed) Kind() domain.NewsType { return f.kind }

// Container exposes the feed state for rendering.
func (f *NewsFeed) Container() *refresh.Container[[]domain.NewsItem] { return f.container }

// Refresh reloads the first page, replacing the list.
func (f *NewsFeed) Refresh(force bool, onComplete func(bool)) bool {
	return f.container.Refresh(pageParams(1, true), force, onComplete)
}

// RefreshWait reloads the first page and waits for the result.
func (f *NewsFeed) RefreshWait(ctx context.Context, force bool) (refresh.Snapshot[[]domain.NewsItem], error) {
	return f.container.RefreshWait(ctx, pageParams(1, true), force)
}

// LoadMoreWait appends the next page and waits for the result.
func (f *NewsFeed) LoadMoreWait(ctx context.Context) (refresh.Snapshot[[]domain.NewsItem], error) {
	f.mu.Lock()
	page := f.nextPage
	f.mu.Unlock()
	return f.container.RefreshWait(ctx, pageParams(page, page <= 1), true)
}

// NextPage returns the page the next LoadMore fetches.
func (f *NewsFeed) NextPage() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextPage
}

// Latest returns the items of the most recent first-page fetch.
func (f *NewsFeed) Latest() []domain.NewsItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *NewsFeed) fetch(ctx context.Context, current *[]domain.NewsItem, params map[string]string) (*[]domain.NewsItem, error) {
	page, reset := parsePageParams(params)
	items, err := dut.News(ctx, f.src, f.kind, page, domain.SearchByTitle, "")
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.nextPage = page + 1
	if page == 1 {
		f.latest = items
	}
	f.mu.Unlock()

	merged := mergePage(current, items, reset)
	return &merged, nil
}

func pageParams(page int, reset bool) map[string]string {
	return map[string]string{
		ParamPage:  strconv.Itoa(page),
		ParamReset: strconv.FormatBool(reset),
	}
}

func parsePageParams(params map[string]string) (int, bool) {
	page, err := strconv.Atoi(params[ParamPage])
	if err != nil || page < 1 {
		page = 1
	}
	reset, _ := strconv.ParseBool(params[ParamReset])
	return page, reset || page == 1
}

// mergePage replaces the list on reset and otherwise appends items not
// already present.
func mergePage(current *[]domain.NewsItem, items []domain.NewsItem, reset bool) []domain.NewsItem {
	if reset || current == nil {
		out := make([]domain.NewsItem, len(items))
		copy(out, items)
		return out
	}
	seen := make(map[string]struct{}, len(*current))
	out := make([]domain.NewsItem, 0, len(*current)+len(items))
	for _, item := range *current {
		seen[item.Key()] = struct{}{}
		out = append(out, item)
	}
	for _, item := range items {
		if _, dup := seen[item.Key()]; dup {
			continue
		}
		out = append(out, item)
	}
	return out
}
