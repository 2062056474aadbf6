// Package dut talks to the school-data gateway that fronts the university's
// news and student account pages.
package dut

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
)

// ErrUnauthorized means the account session is missing, expired or was rejected.
var ErrUnauthorized = errors.New("dut: unauthorized")

// StatusError is returned for unexpected gateway responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dut: %s %s returned status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// AccountSession is an authenticated session with the school site.
type AccountSession struct {
	SessionID  string    `json:"session_id"`
	Username   string    `json:"username"`
	LoggedInAt time.Time `json:"logged_in_at"`
}

// Source is the school-data provider. Implementations must be safe for
// concurrent use; calls run on refresh worker goroutines.
type Source interface {
	NewsGlobal(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error)
	NewsSubject(ctx context.Context, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error)

	Login(ctx context.Context, auth domain.AccountAuth) (*AccountSession, error)
	Logout(ctx context.Context, session *AccountSession) error
	IsLoggedIn(ctx context.Context, session *AccountSession) (bool, error)

	AccountInformation(ctx context.Context, session *AccountSession) (*domain.AccountInformation, error)
	SubjectSchedule(ctx context.Context, session *AccountSession, year domain.SchoolYear) ([]domain.SubjectSchedule, error)
	SubjectFee(ctx context.Context, session *AccountSession, year domain.SchoolYear) ([]domain.SubjectFee, error)
}

// News fetches a page of the given feed.
func News(ctx context.Context, src Source, kind domain.NewsType, page int, method domain.NewsSearchType, query string) ([]domain.NewsItem, error) {
	switch kind {
	case domain.NewsTypeGlobal:
		return src.NewsGlobal(ctx, page, method, query)
	case domain.NewsTypeSubject:
		return src.NewsSubject(ctx, page, method, query)
	default:
		return nil, fmt.Errorf("dut: unknown news type %q", kind)
	}
}
