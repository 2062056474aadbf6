package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/dut"
	"github.com/dutschedule/dutnotify/internal/notify"
	"github.com/dutschedule/dutnotify/internal/refresh"
	"github.com/dutschedule/dutnotify/internal/session"
)

// AccountHandler serves account login state and account data.
type AccountHandler struct {
	*Handler
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(h *Handler) *AccountHandler {
	return &AccountHandler{Handler: h}
}

// RegisterRoutes registers account routes.
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/account", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)
		r.Get("/status", h.Status)
		r.Get("/information", h.Information)
		r.Get("/schedule", h.Schedule)
		r.Get("/fee", h.Fee)
	})
}

type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	RememberLogin bool   `json:"remember_login"`
	Force         bool   `json:"force"`
}

type accountStatus struct {
	LoggedIn       bool              `json:"logged_in"`
	HasCredentials bool              `json:"has_credentials"`
	Username       string            `json:"username,omitempty"`
	LoggedInAt     int64             `json:"logged_in_at,omitempty"`
	State          refresh.State     `json:"state"`
	SchoolYear     domain.SchoolYear `json:"school_year"`
	Error          string            `json:"error,omitempty"`
}

func statusFor(a *session.AccountSession, snap refresh.Snapshot[dut.AccountSession], loggedIn bool) accountStatus {
	st := accountStatus{
		LoggedIn:       loggedIn,
		HasCredentials: a.HasCredentials(),
		Username:       a.Username(),
		State:          snap.State,
		SchoolYear:     a.SchoolYear(),
	}
	if loggedIn && snap.Value != nil {
		st.LoggedInAt = snap.Value.LoggedInAt.UnixMilli()
	}
	if snap.Err != nil {
		st.Error = snap.Err.Error()
	}
	return st
}

// Login handles POST /api/account/login.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	auth := domain.AccountAuth{
		Username:      req.Username,
		Password:      req.Password,
		RememberLogin: req.RememberLogin,
	}
	if err := auth.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := d.Account.Login(r.Context(), auth, req.Force)
	if err != nil {
		slog.Debug("Login wait ended early", "device_id", d.ID, "error", err)
		JSON(w, http.StatusAccepted, statusFor(d.Account, snap, false))
		return
	}

	if snap.State == refresh.Failed {
		status := http.StatusBadGateway
		if errors.Is(snap.Err, dut.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		slog.Info("Login failed", "device_id", d.ID, "username", auth.Username, "error", snap.Err)
		JSON(w, status, statusFor(d.Account, snap, false))
		return
	}

	slog.Info("Login succeeded", "device_id", d.ID, "username", auth.Username)
	st := statusFor(d.Account, snap, true)
	h.publishTo(d.ID, notify.Message{
		Action:   notify.ActionAccountLogin,
		Status:   notify.StatusLoggedIn,
		Data:     map[string]string{"username": auth.Username},
		DeviceID: d.ID,
	})
	JSON(w, http.StatusOK, st)
}

// Logout handles POST /api/account/logout.
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	if err := d.Account.Logout(r.Context()); err != nil {
		// Local state is already cleared; the remote session expires on its own.
		slog.Warn("Remote logout failed", "device_id", d.ID, "error", err)
	}
	h.publishTo(d.ID, notify.Message{
		Action:   notify.ActionAccountLogout,
		Status:   notify.StatusLoggedOut,
		DeviceID: d.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/account/status.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	loggedIn, err := d.Account.IsLoggedIn(r.Context())
	if err != nil {
		slog.Warn("Failed to check login state", "device_id", d.ID, "error", err)
	}
	JSON(w, http.StatusOK, statusFor(d.Account, d.Account.LoginState().Snapshot(), loggedIn))
}

// Information handles GET /api/account/information.
func (h *AccountHandler) Information(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	serveContainer(w, r, d.Account.Information())
}

// Schedule handles GET /api/account/schedule.
func (h *AccountHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	h.syncSchoolYear(r.Context(), d)
	serveContainer(w, r, d.Account.Schedule())
}

// Fee handles GET /api/account/fee.
func (h *AccountHandler) Fee(w http.ResponseWriter, r *http.Request) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	h.syncSchoolYear(r.Context(), d)
	serveContainer(w, r, d.Account.Fee())
}

// syncSchoolYear applies the stored school year to a session that may have
// been created before the settings were loaded.
func (h *AccountHandler) syncSchoolYear(ctx context.Context, d *session.Device) {
	settings, err := h.repo.GetSettings(ctx, d.ID)
	if err != nil {
		slog.Warn("Failed to load settings", "device_id", d.ID, "error", err)
		return
	}
	if err := d.Account.SetSchoolYear(settings.CurrentSchoolYear); err != nil {
		slog.Warn("Stored school year rejected", "device_id", d.ID, "error", err)
	}
}

// serveContainer refreshes c and writes its snapshot. A missing login maps to
// 401 so clients can prompt for credentials.
func serveContainer[T any](w http.ResponseWriter, r *http.Request, c *refresh.Container[T]) {
	snap, err := c.RefreshWait(r.Context(), nil, queryBool(r, "force"))
	if err != nil {
		slog.Debug("Refresh wait ended early", "container", c.Name(), "error", err)
	}
	status := http.StatusOK
	if snap.State == refresh.Failed && (errors.Is(snap.Err, session.ErrNotLoggedIn) || errors.Is(snap.Err, dut.ErrUnauthorized)) {
		status = http.StatusUnauthorized
	}
	JSON(w, status, newSnapshotBody(snap))
}
