// Package worker runs the background jobs of the service: the news refresher
// that turns new announcements into notifications, and the session reaper.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/notify"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/session"
	"github.com/dutschedule/dutnotify/internal/store"
)

// Lesson statuses carried by subject news.
const (
	LessonStatusLeaving = "leaving"
	LessonStatusMakeUp  = "make_up_lesson"
)

// seenKeysLimit caps how many item keys are remembered per feed.
const seenKeysLimit = 200

// Publisher delivers messages to connected clients.
type Publisher interface {
	Publish(m notify.Message) error
	PublishTo(deviceID string, m notify.Message) error
}

// NewsWorkerConfig configures a NewsWorker.
type NewsWorkerConfig struct {
	Feeds        []*session.NewsFeed
	Repo         store.Repository
	Publisher    Publisher
	Interval     time.Duration
	HistoryLimit int
	Logger       *slog.Logger
	// OnResult is called after each feed refresh with its outcome.
	OnResult func(kind domain.NewsType, ok bool)
}

// NewsWorker periodically refreshes the news feeds, detects new items and
// notifies devices about them.
type NewsWorker struct {
	feeds        []*session.NewsFeed
	repo         store.Repository
	pub          Publisher
	historyLimit int
	logger       *slog.Logger
	onResult     func(domain.NewsType, bool)
	now          func() time.Time

	mu       sync.Mutex
	interval time.Duration
	reset    chan time.Duration
}

// NewNewsWorker creates a worker. Start runs it.
func NewNewsWorker(cfg NewsWorkerConfig) *NewsWorker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	return &NewsWorker{
		feeds:        cfg.Feeds,
		repo:         cfg.Repo,
		pub:          cfg.Publisher,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
		onResult:     cfg.OnResult,
		now:          time.Now,
		interval:     ClampInterval(cfg.Interval),
		reset:        make(chan time.Duration, 1),
	}
}

// ClampInterval bounds d to the allowed refresh interval range.
func ClampInterval(d time.Duration) time.Duration {
	lo := time.Duration(domain.MinRefreshNewsInterval) * time.Minute
	hi := time.Duration(domain.MaxRefreshNewsInterval) * time.Minute
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Interval returns the current refresh interval.
func (w *NewsWorker) Interval() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.interval
}

// SetInterval reschedules the ticker. The value is clamped to 1..30 minutes.
func (w *NewsWorker) SetInterval(d time.Duration) time.Duration {
	d = ClampInterval(d)
	w.mu.Lock()
	changed := d != w.interval
	w.interval = d
	w.mu.Unlock()
	if !changed {
		return d
	}

	// Keep only the newest pending interval.
	select {
	case <-w.reset:
	default:
	}
	select {
	case w.reset <- d:
	default:
	}
	w.logger.Info("News worker interval changed", "interval", d)
	return d
}

// Start runs the worker until ctx ends. The first pass runs immediately.
func (w *NewsWorker) Start(ctx context.Context) {
	go func() {
		interval := w.Interval()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		w.logger.Info("News worker started", "interval", interval)

		w.RunOnce(ctx)
		for {
			select {
			case <-ticker.C:
				w.RunOnce(ctx)
			case d := <-w.reset:
				ticker.Reset(d)
			case <-ctx.Done():
				w.logger.Info("News worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// RunOnce refreshes every feed and processes new items.
func (w *NewsWorker) RunOnce(ctx context.Context) {
	for _, feed := range w.feeds {
		if ctx.Err() != nil {
			return
		}
		ok := true
		if err := w.processFeed(ctx, feed); err != nil {
			ok = false
			w.logger.Warn("News refresh failed", "kind", feed.Kind(), "error", err)
			w.publish(notify.Message{Action: actionFor(feed.Kind()), Error: err.Error()})
		}
		if w.onResult != nil {
			w.onResult(feed.Kind(), ok)
		}
	}
}

func (w *NewsWorker) processFeed(ctx context.Context, feed *session.NewsFeed) error {
	snap, err := feed.RefreshWait(ctx, true)
	if err != nil {
		return err
	}
	if snap.State == refresh.Failed {
		return snap.Err
	}

	kind := feed.Kind()
	items := feed.Latest()
	seen, err := w.repo.GetNewsKeys(ctx, kind)
	if err != nil {
		return fmt.Errorf("load seen news keys: %w", err)
	}

	keys := make([]string, 0, len(items))
	for _, item := range items {
		keys = append(keys, item.Key())
	}

	if seen == nil {
		// First run only records what exists.
		w.logger.Info("Seeding seen news", "kind", kind, "count", len(keys))
		return w.saveKeys(ctx, kind, keys, nil)
	}

	fresh := diffNews(items, seen)
	if err := w.saveKeys(ctx, kind, keys, seen); err != nil {
		return err
	}
	if len(fresh) == 0 {
		w.publish(notify.Message{Action: actionFor(kind), Status: notify.StatusRefreshed})
		return nil
	}

	w.logger.Info("New news found", "kind", kind, "count", len(fresh))
	if err := w.notifyDevices(ctx, kind, fresh); err != nil {
		w.logger.Warn("Failed to store news notifications", "kind", kind, "error", err)
	}
	w.publish(notify.Message{Action: actionFor(kind), Status: notify.StatusNewNews, Data: fresh})
	return nil
}

// saveKeys stores current keys first, then the previously seen ones, capped.
func (w *NewsWorker) saveKeys(ctx context.Context, kind domain.NewsType, current, previous []string) error {
	merged := make([]string, 0, len(current)+len(previous))
	dup := make(map[string]struct{}, len(current)+len(previous))
	for _, list := range [][]string{current, previous} {
		for _, k := range list {
			if _, ok := dup[k]; ok {
				continue
			}
			dup[k] = struct{}{}
			merged = append(merged, k)
		}
	}
	if len(merged) > seenKeysLimit {
		merged = merged[:seenKeysLimit]
	}
	if err := w.repo.SaveNewsKeys(ctx, kind, merged); err != nil {
		return fmt.Errorf("save seen news keys: %w", err)
	}
	return nil
}

// diffNews returns the items whose key is not in seen, preserving order.
func diffNews(items []domain.NewsItem, seen []string) []domain.NewsItem {
	known := make(map[string]struct{}, len(seen))
	for _, k := range seen {
		known[k] = struct{}{}
	}
	var fresh []domain.NewsItem
	for _, item := range items {
		if _, ok := known[item.Key()]; !ok {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

func (w *NewsWorker) notifyDevices(ctx context.Context, kind domain.NewsType, items []domain.NewsItem) error {
	devices, err := w.repo.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	now := w.now()
	for _, device := range devices {
		settings, err := w.repo.GetSettings(ctx, device.DeviceID)
		if err != nil {
			w.logger.Warn("Failed to load device settings", "device_id", device.DeviceID, "error", err)
			continue
		}

		notifications := buildNotifications(kind, items, settings, now)
		if len(notifications) == 0 {
			continue
		}
		if err := w.repo.AddNotifications(ctx, device.DeviceID, notifications, w.historyLimit); err != nil {
			w.logger.Warn("Failed to add notifications", "device_id", device.DeviceID, "error", err)
			continue
		}
		if w.pub == nil {
			continue
		}
		if err := w.pub.PublishTo(device.DeviceID, notify.Message{
			Action: actionFor(kind),
			Status: notify.StatusNewNews,
			Data:   notifications,
		}); err != nil {
			w.logger.Warn("Failed to publish notifications", "device_id", device.DeviceID, "error", err)
		}
	}
	return nil
}

// buildNotifications turns new items into the notifications a device wants.
func buildNotifications(kind domain.NewsType, items []domain.NewsItem, settings domain.Settings, now time.Time) []domain.Notification {
	if !settings.RefreshNewsEnabled {
		return nil
	}
	var out []domain.Notification
	for _, item := range items {
		switch kind {
		case domain.NewsTypeGlobal:
			if !settings.NotifyNewsGlobal {
				return nil
			}
			out = append(out, domain.NewNotification(domain.TagNewsGlobal, item.Title, summarize(item.ContentString), now))
		case domain.NewsTypeSubject:
			if !settings.NotifyNewsSubject {
				return nil
			}
			if !item.Affects(settings.NewsFilterList) {
				continue
			}
			out = append(out, domain.NewNotification(domain.TagNewsSubject, subjectTitle(item), subjectDescription(item), now))
		}
	}
	return out
}

func subjectTitle(item domain.NewsItem) string {
	var names []string
	for _, ac := range item.AffectedClasses {
		if ac.SubjectName != "" {
			names = append(names, ac.SubjectName)
		}
	}
	if len(names) == 0 {
		return item.Title
	}
	return "New announcement for " + strings.Join(names, ", ")
}

func subjectDescription(item domain.NewsItem) string {
	switch item.LessonStatus {
	case LessonStatusLeaving:
		return strings.TrimSpace("Lesson cancelled " + lessonWhen(item))
	case LessonStatusMakeUp:
		return strings.TrimSpace("Make-up lesson " + lessonWhen(item))
	default:
		return summarize(item.ContentString)
	}
}

func lessonWhen(item domain.NewsItem) string {
	var parts []string
	if item.AffectedDate > 0 {
		parts = append(parts, "on "+time.UnixMilli(item.AffectedDate).Format("02/01/2006"))
	}
	if item.AffectedLessons != "" {
		parts = append(parts, "(lessons "+item.AffectedLessons+")")
	}
	return strings.Join(parts, " ")
}

// summarize trims long content for notification bodies.
func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const limit = 160
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-3]) + "..."
}

func actionFor(kind domain.NewsType) string {
	if kind == domain.NewsTypeSubject {
		return notify.ActionNewsSubject
	}
	return notify.ActionNewsGlobal
}

func (w *NewsWorker) publish(m notify.Message) {
	if w.pub == nil {
		return
	}
	if err := w.pub.Publish(m); err != nil {
		w.logger.Debug("Failed to publish news message", "action", m.Action, "error", err)
	}
}
