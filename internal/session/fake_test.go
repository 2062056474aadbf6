package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/store"
	"github.com/stretchr/testify/require"
)

type newsCall struct {
	kind   domain.NewsType
	page   int
	method domain.NewsSearchType
	query  string
}

// fakeSource is an in-memory dut.Source.
type fakeSource struct {
	mu         sync.Mutex
	password   string
	valid      bool
	logins     int
	logouts    int
	newsCalls  []newsCall
	newsGate   chan struct{}
	infoGate   chan struct{}
	scheduleYr []domain.SchoolYear
}

func newFakeSource() *fakeSource {
	return &fakeSource{password: "secret"}
}

func (f *fakeSource) news(ctx context.Context, kind domain.NewsType, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	f.mu.Lock()
	f.newsCalls = append(f.newsCalls, newsCall{kind, page, method, query})
	gate := f.newsGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	items := make([]domain.NewsItem, 0, 2)
	for i := 0; i < 2; i++ {
		items = append(items, domain.NewsItem{
			Date:  int64(page*10 + i),
			Title: fmt.Sprintf("%s %s p%d #%d", kind, query, page, i),
		})
	}
	return items, nil
}

func (f *fakeSource) NewsGlobal(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return f.news(ctx, domain.NewsTypeGlobal, page, method, query)
}

func (f *fakeSource) NewsSubject(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	return f.news(ctx, domain.NewsTypeSubject, page, method, query)
}

func (f *fakeSource) Login(_ context.Context, auth domain.AccountAuth) (*dut.AccountSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if auth.Password != f.password {
		return nil, dut.ErrUnauthorized
	}
	f.logins++
	f.valid = true
	return &dut.AccountSession{
		SessionID:  fmt.Sprintf("sess-%d", f.logins),
		Username:   auth.Username,
		LoggedInAt: time.Now(),
	}, nil
}

func (f *fakeSource) Logout(_ context.Context, _ *dut.AccountSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	f.valid = false
	return nil
}

func (f *fakeSource) IsLoggedIn(_ context.Context, _ *dut.AccountSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid, nil
}

func (f *fakeSource) AccountInformation(ctx context.Context, session *dut.AccountSession) (*domain.AccountInformation, error) {
	f.mu.Lock()
	gate := f.infoGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &domain.AccountInformation{StudentID: session.Username, Name: "Nguyen Van A"}, nil
}

func (f *fakeSource) SubjectSchedule(_ context.Context, _ *dut.AccountSession, year domain.SchoolYear) ([]domain.SubjectSchedule, error) {
	f.mu.Lock()
	f.scheduleYr = append(f.scheduleYr, year)
	f.mu.Unlock()
	return []domain.SubjectSchedule{{ID: domain.SubjectCode{StudentYearID: "20", ClassID: "11"}, Name: "Networking"}}, nil
}

func (f *fakeSource) SubjectFee(_ context.Context, _ *dut.AccountSession, _ domain.SchoolYear) ([]domain.SubjectFee, error) {
	return []domain.SubjectFee{{ID: domain.SubjectCode{StudentYearID: "20", ClassID: "11"}, Name: "Networking", Price: 1200000}}, nil
}

func (f *fakeSource) expire() {
	f.mu.Lock()
	f.valid = false
	f.mu.Unlock()
}

func (f *fakeSource) counts() (logins, logouts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.logouts
}

func (f *fakeSource) calls() []newsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]newsCall, len(f.newsCalls))
	copy(out, f.newsCalls)
	return out
}

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
