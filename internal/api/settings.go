package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/dutschedule/dutnotify/internal/identity"
	"github.com/dutschedule/dutnotify/internal/notify"
)

// IntervalSetter reschedules the background news refresh.
type IntervalSetter interface {
	SetInterval(d time.Duration) time.Duration
}

// SettingsHandler serves per-device settings.
type SettingsHandler struct {
	*Handler
	refresher IntervalSetter
}

// NewSettingsHandler creates a new SettingsHandler. refresher may be nil when
// background refresh is disabled.
func NewSettingsHandler(h *Handler, refresher IntervalSetter) *SettingsHandler {
	return &SettingsHandler{Handler: h, refresher: refresher}
}

// RegisterRoutes registers settings routes.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/settings", func(r chi.Router) {
		r.Get("/", h.GetSettings)
		r.Put("/", h.UpdateSettings)
		r.Post("/news-filter", h.AddNewsFilter)
		r.Delete("/news-filter", h.RemoveNewsFilter)
	})
}

// GetSettings handles GET /api/settings.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	settings, err := h.repo.GetSettings(r.Context(), deviceID)
	if err != nil {
		slog.Error("Failed to load settings", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	JSON(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/settings.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := decodeJSON(w, r, &settings); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := settings.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if settings.NewsFilterList == nil {
		settings.NewsFilterList = []domain.SubjectCode{}
	}
	h.save(w, r, settings)
}

// AddNewsFilter handles POST /api/settings/news-filter.
func (h *SettingsHandler) AddNewsFilter(w http.ResponseWriter, r *http.Request) {
	h.editFilter(w, r, domain.Settings.AddFilter)
}

// RemoveNewsFilter handles DELETE /api/settings/news-filter.
func (h *SettingsHandler) RemoveNewsFilter(w http.ResponseWriter, r *http.Request) {
	h.editFilter(w, r, domain.Settings.RemoveFilter)
}

func (h *SettingsHandler) editFilter(w http.ResponseWriter, r *http.Request, edit func(domain.Settings, domain.SubjectCode) domain.Settings) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var code domain.SubjectCode
	if err := decodeJSON(w, r, &code); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	code.StudentYearID = strings.TrimSpace(code.StudentYearID)
	code.ClassID = strings.TrimSpace(code.ClassID)
	if code.StudentYearID == "" || code.ClassID == "" {
		Error(w, http.StatusBadRequest, "student_year_id and class_id are required")
		return
	}

	settings, err := h.repo.GetSettings(r.Context(), deviceID)
	if err != nil {
		slog.Error("Failed to load settings", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	h.save(w, r, edit(settings, code))
}

// save persists settings and applies their side effects: the account school
// year, the background refresh interval and a settings.update event.
func (h *SettingsHandler) save(w http.ResponseWriter, r *http.Request, settings domain.Settings) {
	d, ok := h.device(w, r)
	if !ok {
		return
	}
	if err := h.repo.SaveSettings(r.Context(), d.ID, settings); err != nil {
		slog.Error("Failed to save settings", "device_id", d.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	if err := d.Account.SetSchoolYear(settings.CurrentSchoolYear); err != nil {
		slog.Warn("School year rejected", "device_id", d.ID, "error", err)
	}
	if h.refresher != nil && settings.RefreshNewsEnabled {
		h.refresher.SetInterval(settings.RefreshInterval())
	}

	h.publishTo(d.ID, notify.Message{
		Action:   notify.ActionSettingsUpdate,
		Status:   notify.StatusUpdated,
		Data:     settings,
		DeviceID: d.ID,
	})
	JSON(w, http.StatusOK, settings)
}
