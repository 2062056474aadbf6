package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RouteRegistrar mounts a handler group on a router.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Routes bundles every API handler group.
type Routes struct {
	News          *NewsHandler
	Account       *AccountHandler
	Settings      *SettingsHandler
	Notifications *NotificationHandler
	Health        *HealthHandler
}

// NewRoutes builds the API handler groups around a shared base handler.
// stream and ws serve the live notification endpoints.
func NewRoutes(base *Handler, refresher IntervalSetter, checker Checker, stream, ws http.Handler) *Routes {
	return &Routes{
		News:          NewNewsHandler(base),
		Account:       NewAccountHandler(base),
		Settings:      NewSettingsHandler(base, refresher),
		Notifications: NewNotificationHandler(base, stream, ws),
		Health:        NewHealthHandler(base, checker),
	}
}

// Register mounts every group on r.
func (rt *Routes) Register(r chi.Router) {
	rt.Health.RegisterHealth(r)
	for _, g := range []RouteRegistrar{rt.News, rt.Account, rt.Settings, rt.Notifications} {
		g.RegisterRoutes(r)
	}
}
