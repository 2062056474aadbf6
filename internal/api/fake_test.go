package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/identity"
	"github.com/dutschedule/dutnotify/internal/notify"
	"github.com/dutschedule/dutnotify/internal/session"
	"github.com/dutschedule/dutnotify/internal/store"
)

// fakeSource is an in-memory dut.Source accepting the password "secret".
type fakeSource struct {
	mu      sync.Mutex
	valid   bool
	years   []domain.SchoolYear
	queries []string
}

func (f *fakeSource) news(kind domain.NewsType, page int, query string) []domain.NewsItem {
	f.mu.Lock()
	if query != "" {
		f.queries = append(f.queries, query)
	}
	f.mu.Unlock()
	return []domain.NewsItem{
		{Date: int64(page * 10), Title: fmt.Sprintf("%s %s p%d", kind, query, page)},
	}
}

func (f *fakeSource) NewsGlobal(_ context.Context, page int, _ domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return f.news(domain.NewsTypeGlobal, page, query), nil
}

func (f *fakeSource) NewsSubject(_ context.Context, page int, _ domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return f.news(domain.NewsTypeSubject, page, query), nil
}

func (f *fakeSource) Login(_ context.Context, auth domain.AccountAuth) (*dut.AccountSession, error) {
	if auth.Password != "secret" {
		return nil, dut.ErrUnauthorized
	}
	f.mu.Lock()
	f.valid = true
	f.mu.Unlock()
	return &dut.AccountSession{SessionID: "s1", Username: auth.Username, LoggedInAt: time.Now()}, nil
}

func (f *fakeSource) Logout(context.Context, *dut.AccountSession) error {
	f.mu.Lock()
	f.valid = false
	f.mu.Unlock()
	return nil
}

func (f *fakeSource) IsLoggedIn(context.Context, *dut.AccountSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid, nil
}

func (f *fakeSource) AccountInformation(_ context.Context, s *dut.AccountSession) (*domain.AccountInformation, error) {
	return &domain.AccountInformation{StudentID: s.Username, Name: "Nguyen Van A"}, nil
}

func (f *fakeSource) SubjectSchedule(_ context.Context, _ *dut.AccountSession, year domain.SchoolYear) ([]domain.SubjectSchedule, error) {
	f.mu.Lock()
	f.years = append(f.years, year)
	f.mu.Unlock()
	return []domain.SubjectSchedule{{ID: domain.SubjectCode{StudentYearID: "20", ClassID: "11"}, Name: "Networking"}}, nil
}

func (f *fakeSource) SubjectFee(context.Context, *dut.AccountSession, domain.SchoolYear) ([]domain.SubjectFee, error) {
	return []domain.SubjectFee{{ID: domain.SubjectCode{StudentYearID: "20", ClassID: "11"}, Name: "Networking", Price: 1200000}}, nil
}

func (f *fakeSource) scheduleYears() []domain.SchoolYear {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SchoolYear(nil), f.years...)
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (p *fakePublisher) Publish(m notify.Message) error {
	return p.PublishTo("", m)
}

func (p *fakePublisher) PublishTo(deviceID string, m notify.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m.DeviceID = deviceID
	p.messages = append(p.messages, m)
	return nil
}

func (p *fakePublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.messages))
	for _, m := range p.messages {
		out = append(out, m.Action)
	}
	return out
}

// fakeInterval records SetInterval calls.
type fakeInterval struct {
	mu  sync.Mutex
	got []time.Duration
}

func (f *fakeInterval) SetInterval(d time.Duration) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, d)
	return d
}

type testEnv struct {
	router   chi.Router
	repo     store.Repository
	src      *fakeSource
	pub      *fakePublisher
	interval *fakeInterval
	deviceID string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	src := &fakeSource{}
	mgr, err := session.NewManager(src, repo, session.Config{})
	require.NoError(t, err)

	env := &testEnv{
		repo:     repo,
		src:      src,
		pub:      &fakePublisher{},
		interval: &fakeInterval{},
		deviceID: uuid.NewString(),
	}

	routes := NewRoutes(NewHandler(repo, mgr, env.pub), env.interval, nil, nil, nil)
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	routes.Register(r)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(identity.DeviceHeaderName, e.deviceID)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}
