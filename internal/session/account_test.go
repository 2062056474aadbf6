package session

import (
	"testing"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccount(t *testing.T, src *fakeSource) *AccountSession {
	t.Helper()
	a, err := newAccountSession("dev-1", src, Config{}.withDefaults())
	require.NoError(t, err)
	return a
}

func TestAccountLogin(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	snap, err := a.Login(ctx, domain.AccountAuth{Username: "102190000", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)
	assert.Equal(t, refresh.Succeeded, snap.State)
	require.NotNil(t, snap.Value)
	assert.Equal(t, "102190000", snap.Value.Username)

	ok, err := a.IsLoggedIn(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, a.HasCredentials())
}

func TestAccountLoginRejected(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)

	snap, err := a.Login(testCtx(t), domain.AccountAuth{Username: "102190000", Password: "wrong"}, false)
	require.NoError(t, err)
	assert.Equal(t, refresh.Failed, snap.State)
	assert.Error(t, snap.Err)
}

func TestAccountLoginValidates(t *testing.T) {
	a := newTestAccount(t, newFakeSource())
	_, err := a.Login(testCtx(t), domain.AccountAuth{Username: "102190000"}, false)
	assert.Error(t, err)
	assert.Equal(t, refresh.NotStarted, a.LoginState().State())
}

func TestAccountDataRequiresLogin(t *testing.T) {
	a := newTestAccount(t, newFakeSource())

	snap, err := a.Information().RefreshWait(testCtx(t), nil, false)
	require.NoError(t, err)
	assert.Equal(t, refresh.Failed, snap.State)
	assert.ErrorIs(t, snap.Err, ErrNotLoggedIn)
}

func TestAccountDataLogsInAgainWhenExpired(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	_, err := a.Login(ctx, domain.AccountAuth{Username: "102190000", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)
	src.expire()

	snap, err := a.Information().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	require.Equal(t, refresh.Succeeded, snap.State)
	assert.Equal(t, "102190000", snap.Value.StudentID)

	logins, _ := src.counts()
	assert.Equal(t, 2, logins)
}

func TestAccountWithoutRememberForgetsCredentials(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	_, err := a.Login(ctx, domain.AccountAuth{Username: "102190000", Password: "secret"}, false)
	require.NoError(t, err)
	assert.False(t, a.HasCredentials())

	// Still usable while the remote session lives.
	snap, err := a.Fee().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, refresh.Succeeded, snap.State)

	src.expire()
	sched, err := a.Schedule().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	assert.ErrorIs(t, sched.Err, ErrNotLoggedIn)
}

func TestAccountLogoutResetsContainers(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	_, err := a.Login(ctx, domain.AccountAuth{Username: "102190000", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)
	_, err = a.Information().RefreshWait(ctx, nil, false)
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx))

	_, logouts := src.counts()
	assert.Equal(t, 1, logouts)
	assert.Equal(t, refresh.NotStarted, a.LoginState().State())
	assert.Equal(t, refresh.NotStarted, a.Information().State())
	_, ok := a.Information().Value()
	assert.False(t, ok)
	assert.False(t, a.HasCredentials())
	assert.Empty(t, a.Username())
}

func TestAccountSchoolYearChangeResetsSchedule(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	_, err := a.Login(ctx, domain.AccountAuth{Username: "102190000", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)
	_, err = a.Schedule().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	_, err = a.Information().RefreshWait(ctx, nil, false)
	require.NoError(t, err)

	next := domain.SchoolYear{Year: 24, Semester: 2}
	require.NoError(t, a.SetSchoolYear(next))
	assert.Equal(t, refresh.NotStarted, a.Schedule().State())
	assert.Equal(t, refresh.Succeeded, a.Information().State())

	_, err = a.Schedule().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	src.mu.Lock()
	years := append([]domain.SchoolYear(nil), src.scheduleYr...)
	src.mu.Unlock()
	require.Len(t, years, 2)
	assert.Equal(t, next, years[1])

	assert.Error(t, a.SetSchoolYear(domain.SchoolYear{Year: 24, Semester: 5}))
}

func TestAccountSwitchDropsPreviousAccountData(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	_, err := a.Login(ctx, domain.AccountAuth{Username: "102190001", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)
	snap, err := a.Information().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	require.NotNil(t, snap.Value)
	assert.Equal(t, "102190001", snap.Value.StudentID)

	_, err = a.Login(ctx, domain.AccountAuth{Username: "102190002", Password: "secret", RememberLogin: true}, false)
	require.NoError(t, err)

	snap, err = a.Information().RefreshWait(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, refresh.Succeeded, snap.State)
	require.NotNil(t, snap.Value)
	assert.Equal(t, "102190002", snap.Value.StudentID)
}

func TestLoginKeepsResetDeferredByLogout(t *testing.T) {
	src := newFakeSource()
	a := newTestAccount(t, src)
	ctx := testCtx(t)

	auth := domain.AccountAuth{Username: "102190001", Password: "secret", RememberLogin: true}
	_, err := a.Login(ctx, auth, false)
	require.NoError(t, err)

	gate := make(chan struct{})
	src.mu.Lock()
	src.infoGate = gate
	src.mu.Unlock()

	require.True(t, a.Information().Refresh(nil, true, nil))
	require.Equal(t, refresh.Running, a.Information().State())

	// Logout cannot reset a running container, so the reset is deferred.
	require.NoError(t, a.Logout(ctx))
	_, err = a.Login(ctx, auth, false)
	require.NoError(t, err)

	close(gate)
	require.NoError(t, a.Information().Wait(ctx))

	// The fetch started before the logout must not leave its value behind.
	require.Eventually(t, func() bool {
		return a.Information().State() == refresh.NotStarted
	}, time.Second, 5*time.Millisecond)
	_, ok := a.Information().Value()
	assert.False(t, ok)
}
