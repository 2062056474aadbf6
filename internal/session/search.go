package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/store"
)

// SearchQuery describes one news search request.
type SearchQuery struct {
	Query     string                `json:"query"`
	Method    domain.NewsSearchType `json:"method"`
	Type      domain.NewsType       `json:"type"`
	StartOver bool                  `json:"start_over"`
}

// NewsSearch runs paged news searches for a device and keeps its history.
type NewsSearch struct {
	deviceID string
	src      dut.Source
	repo     store.Repository
	limit    int
	now      func() time.Time

	container *refresh.Container[[]domain.NewsItem]

	mu       sync.Mutex
	last     SearchQuery
	nextPage int
}

func newNewsSearch(deviceID string, src dut.Source, repo store.Repository, cfg Config) (*NewsSearch, error) {
	s := &NewsSearch{
		deviceID: deviceID,
		src:      src,
		repo:     repo,
		limit:    cfg.SearchHistoryLimit,
		now:      time.Now,
		nextPage: 1,
	}
	// Every search is an explicit user action, so results never count as fresh.
	opts := append(cfg.options("news.search"), refresh.WithTTL(0))
	c, err := refresh.New(s.fetch, opts...)
	if err != nil {
		return nil, err
	}
	s.container = c
	return s, nil
}

// Container exposes the search state for rendering.
func (s *NewsSearch) Container() *refresh.Container[[]domain.NewsItem] { return s.container }

// Query returns the last accepted search.
func (s *NewsSearch) Query() SearchQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Search starts a search. An empty query clears the results and starts
// nothing. A search issued while another is running is dropped. Changing the
// query, method or feed always starts over. New searches are recorded in the
// history.
func (s *NewsSearch) Search(ctx context.Context, q SearchQuery, onComplete func(bool)) (bool, error) {
	q.Query = strings.TrimSpace(q.Query)
	if q.Method == "" {
		q.Method = domain.SearchByTitle
	}
	if q.Type == "" {
		q.Type = domain.NewsTypeGlobal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if q.Query == "" {
		s.last = SearchQuery{}
		s.nextPage = 1
		s.container.ResetToDefault()
		return false, nil
	}
	if s.container.State() == refresh.Running {
		return false, nil
	}

	if q.Query != s.last.Query || q.Method != s.last.Method || q.Type != s.last.Type {
		q.StartOver = true
	}
	if q.StartOver {
		s.nextPage = 1
	}
	page := s.nextPage

	params := map[string]string{
		ParamPage:   strconv.Itoa(page),
		ParamReset:  strconv.FormatBool(q.StartOver),
		ParamQuery:  q.Query,
		ParamMethod: string(q.Method),
		ParamType:   string(q.Type),
	}
	if !s.container.Refresh(params, true, onComplete) {
		return false, nil
	}
	s.last = q

	if q.StartOver {
		if err := s.record(ctx, q); err != nil {
			return true, err
		}
	}
	return true, nil
}

// SearchWait runs Search and waits for the result.
func (s *NewsSearch) SearchWait(ctx context.Context, q SearchQuery) (refresh.Snapshot[[]domain.NewsItem], bool, error) {
	done := make(chan struct{}, 1)
	started, err := s.Search(ctx, q, func(bool) { done <- struct{}{} })
	if err != nil || !started {
		return s.container.Snapshot(), started, err
	}
	select {
	case <-done:
		return s.container.Snapshot(), true, nil
	case <-ctx.Done():
		return s.container.Snapshot(), true, ctx.Err()
	}
}

// History returns the device's search history, most recent first.
func (s *NewsSearch) History(ctx context.Context) ([]domain.NewsSearchHistory, error) {
	return s.repo.GetSearchHistory(ctx, s.deviceID)
}

// ClearHistory forgets every recorded search.
func (s *NewsSearch) ClearHistory(ctx context.Context) error {
	return s.repo.ClearSearchHistory(ctx, s.deviceID)
}

func (s *NewsSearch) record(ctx context.Context, q SearchQuery) error {
	history, err := s.repo.GetSearchHistory(ctx, s.deviceID)
	if err != nil {
		return fmt.Errorf("load search history: %w", err)
	}
	entry := domain.NewsSearchHistory{Query: q.Query, Method: q.Method, Type: q.Type, Timestamp: s.now()}
	history = domain.AddSearchHistory(history, entry, s.limit)
	if err := s.repo.SaveSearchHistory(ctx, s.deviceID, history); err != nil {
		return fmt.Errorf("save search history: %w", err)
	}
	return nil
}

func (s *NewsSearch) fetch(ctx context.Context, current *[]domain.NewsItem, params map[string]string) (*[]domain.NewsItem, error) {
	page, _ := parsePageParams(params)
	reset, _ := strconv.ParseBool(params[ParamReset])
	kind, err := domain.ParseNewsType(params[ParamType])
	if err != nil {
		return nil, err
	}
	method, err := domain.ParseNewsSearchType(params[ParamMethod])
	if err != nil {
		return nil, err
	}

	items, err := dut.News(ctx, s.src, kind, page, method, params[ParamQuery])
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextPage = page + 1
	s.mu.Unlock()

	merged := mergePage(current, items, reset)
	return &merged, nil
}
