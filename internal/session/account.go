// Package session keeps the per-device state behind the HTTP surface: the
// school account session with its data containers, news search, and the
// shared news feeds.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/refresh"
)

// ErrNotLoggedIn is returned by account fetches when no credentials are known.
var ErrNotLoggedIn = errors.New("session: not logged in")

// AccountSession is one device's school account. Every data container logs in
// first when the remote session is missing or expired.
type AccountSession struct {
	deviceID string
	src      dut.Source
	logger   *slog.Logger

	mu      sync.Mutex
	auth    *domain.AccountAuth
	remote  *dut.AccountSession
	year    domain.SchoolYear
	login   *refresh.Container[dut.AccountSession]
	info    *refresh.Container[domain.AccountInformation]
	sched   *refresh.Container[[]domain.SubjectSchedule]
	fee     *refresh.Container[[]domain.SubjectFee]
	pending []pendingReset
}

// pendingReset is a reset deferred until the named container stops running.
type pendingReset struct {
	container string
	reset     func() bool
}

func newAccountSession(deviceID string, src dut.Source, cfg Config) (*AccountSession, error) {
	a := &AccountSession{
		deviceID: deviceID,
		src:      src,
		logger:   cfg.Logger.With("device_id", deviceID),
		year:     domain.DefaultSettings().CurrentSchoolYear,
	}

	opts := func(name string) []refresh.Option {
		return append(cfg.options(name), refresh.WithAfterRefresh(func(bool) { a.drainPending() }))
	}

	var err error
	if a.login, err = refresh.New(a.fetchLogin, opts("account.login")...); err != nil {
		return nil, err
	}
	if a.info, err = refresh.New(a.fetchInformation, opts("account.information")...); err != nil {
		return nil, err
	}
	if a.sched, err = refresh.New(a.fetchSchedule, opts("account.schedule")...); err != nil {
		return nil, err
	}
	if a.fee, err = refresh.New(a.fetchFee, opts("account.fee")...); err != nil {
		return nil, err
	}
	return a, nil
}

// Login stores auth and logs in, waiting for the result.
func (a *AccountSession) Login(ctx context.Context, auth domain.AccountAuth, force bool) (refresh.Snapshot[dut.AccountSession], error) {
	if err := auth.Validate(); err != nil {
		return a.login.Snapshot(), err
	}

	a.mu.Lock()
	changed := a.auth == nil || a.auth.Username != auth.Username || a.auth.Password != auth.Password
	a.auth = &auth
	// This login supersedes a deferred login reset. Data resets stay queued so
	// a fetch that outlived a logout cannot leave its result behind.
	kept := a.pending[:0]
	for _, p := range a.pending {
		if p.container != a.login.Name() {
			kept = append(kept, p)
		}
	}
	a.pending = kept
	if changed {
		a.remote = nil
	}
	a.mu.Unlock()

	if changed {
		// Data of the previous account must not stay fresh for the new one.
		a.resetData()
	}
	return a.login.RefreshWait(ctx, nil, force || changed)
}

// Logout ends the remote session, forgets the credentials and resets every
// container. The remote logout is best effort.
func (a *AccountSession) Logout(ctx context.Context) error {
	a.mu.Lock()
	remote := a.remote
	a.remote = nil
	a.auth = nil
	a.mu.Unlock()

	var err error
	if remote != nil {
		if err = a.src.Logout(ctx, remote); err != nil {
			a.logger.Warn("Remote logout failed", "error", err)
		}
	}
	a.resetAll()
	return err
}

// IsLoggedIn reports whether a remote session is held and still accepted.
func (a *AccountSession) IsLoggedIn(ctx context.Context) (bool, error) {
	a.mu.Lock()
	remote := a.remote
	a.mu.Unlock()
	if remote == nil {
		return false, nil
	}
	return a.src.IsLoggedIn(ctx, remote)
}

// HasCredentials reports whether the session can log in on its own.
func (a *AccountSession) HasCredentials() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.auth != nil
}

// Username returns the stored username, if any.
func (a *AccountSession) Username() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.auth == nil {
		return ""
	}
	return a.auth.Username
}

// SchoolYear returns the school year used by the schedule and fee containers.
func (a *AccountSession) SchoolYear() domain.SchoolYear {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.year
}

// SetSchoolYear switches the school year. Schedule and fee are cleared when it
// changes so the next refresh fetches the new period.
func (a *AccountSession) SetSchoolYear(year domain.SchoolYear) error {
	if err := year.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.year == year {
		a.mu.Unlock()
		return nil
	}
	a.year = year
	a.mu.Unlock()

	a.resetOrDefer(a.sched.Name(), a.sched.ResetToDefault)
	a.resetOrDefer(a.fee.Name(), a.fee.ResetToDefault)
	return nil
}

// LoginState returns the login container.
func (a *AccountSession) LoginState() *refresh.Container[dut.AccountSession] { return a.login }

// Information returns the account information container.
func (a *AccountSession) Information() *refresh.Container[domain.AccountInformation] { return a.info }

// Schedule returns the subject schedule container.
func (a *AccountSession) Schedule() *refresh.Container[[]domain.SubjectSchedule] { return a.sched }

// Fee returns the subject fee container.
func (a *AccountSession) Fee() *refresh.Container[[]domain.SubjectFee] { return a.fee }

func (a *AccountSession) resetAll() {
	a.resetOrDefer(a.login.Name(), a.login.ResetToDefault)
	a.resetData()
}

func (a *AccountSession) resetData() {
	a.resetOrDefer(a.info.Name(), a.info.ResetToDefault)
	a.resetOrDefer(a.sched.Name(), a.sched.ResetToDefault)
	a.resetOrDefer(a.fee.Name(), a.fee.ResetToDefault)
}

// resetOrDefer resets now, or once the running fetch of that container ends.
func (a *AccountSession) resetOrDefer(container string, reset func() bool) {
	if reset() {
		return
	}
	a.mu.Lock()
	a.pending = append(a.pending, pendingReset{container: container, reset: reset})
	a.mu.Unlock()
}

// drainPending runs resets deferred while a fetch was in flight. It is the
// after-refresh hook of every account container.
func (a *AccountSession) drainPending() {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, p := range pending {
		a.resetOrDefer(p.container, p.reset)
	}
}

func (a *AccountSession) fetchLogin(ctx context.Context, _ *dut.AccountSession, _ map[string]string) (*dut.AccountSession, error) {
	return a.ensureSession(ctx)
}

// ensureSession returns the held remote session when the gateway still
// accepts it and logs in again with the stored credentials otherwise.
func (a *AccountSession) ensureSession(ctx context.Context) (*dut.AccountSession, error) {
	a.mu.Lock()
	remote := a.remote
	var auth domain.AccountAuth
	hasAuth := a.auth != nil
	if hasAuth {
		auth = *a.auth
	}
	a.mu.Unlock()

	if remote != nil {
		ok, err := a.src.IsLoggedIn(ctx, remote)
		if err == nil && ok {
			return remote, nil
		}
		if err != nil {
			a.logger.Debug("Session check failed, logging in again", "error", err)
		}
	}
	if !hasAuth {
		return nil, ErrNotLoggedIn
	}

	session, err := a.src.Login(ctx, auth)
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", auth.Username, err)
	}

	a.mu.Lock()
	// Logout may have raced with the login call.
	if a.auth == nil || a.auth.Username != auth.Username {
		a.mu.Unlock()
		return nil, ErrNotLoggedIn
	}
	a.remote = session
	if !auth.RememberLogin {
		a.auth = nil
	}
	a.mu.Unlock()

	a.logger.Info("Account logged in", "username", auth.Username)
	return session, nil
}

func (a *AccountSession) fetchInformation(ctx context.Context, _ *domain.AccountInformation, _ map[string]string) (*domain.AccountInformation, error) {
	session, err := a.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	return a.src.AccountInformation(ctx, session)
}

func (a *AccountSession) fetchSchedule(ctx context.Context, _ *[]domain.SubjectSchedule, _ map[string]string) (*[]domain.SubjectSchedule, error) {
	session, err := a.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	items, err := a.src.SubjectSchedule(ctx, session, a.SchoolYear())
	if err != nil {
		return nil, err
	}
	return &items, nil
}

func (a *AccountSession) fetchFee(ctx context.Context, _ *[]domain.SubjectFee, _ map[string]string) (*[]domain.SubjectFee, error) {
	session, err := a.ensureSession(ctx)
	if err != nil {
		return nil, err
	}
	items, err := a.src.SubjectFee(ctx, session, a.SchoolYear())
	if err != nil {
		return nil, err
	}
	return &items, nil
}
