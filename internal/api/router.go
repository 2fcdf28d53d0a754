package api

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/ferme/internal/live"
	"github.com/erazemk/ferme/internal/model"
	"github.com/erazemk/ferme/internal/notify"
)

// Config holds the router's dependencies.
type Config struct {
	DB        *sql.DB
	JWTSecret string
	// Hub receives change events; nil disables live updates.
	Hub *live.Hub
	// Dispatcher delivers notifications. It is wrapped to run
	// asynchronously; nil logs notifications instead.
	Dispatcher notify.Dispatcher
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(cfg Config) http.Handler {
	mux := http.NewServeMux()

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = notify.LogDispatcher{}
	}
	ev := &events{hub: cfg.Hub, notifier: notify.Async(dispatcher, countDispatch)}

	authHandler := &AuthHandler{DB: cfg.DB, JWTSecret: cfg.JWTSecret}
	farmsHandler := &FarmsHandler{DB: cfg.DB, events: ev}
	usersHandler := &UsersHandler{DB: cfg.DB}
	stocksHandler := &StocksHandler{DB: cfg.DB, events: ev}
	transfersHandler := &TransfersHandler{DB: cfg.DB, events: ev}
	notificationsHandler := &NotificationsHandler{DB: cfg.DB, events: ev}
	workersHandler := &WorkersHandler{DB: cfg.DB, events: ev}
	liveHandler := &LiveHandler{Hub: cfg.Hub}

	authMW := AuthMiddleware(cfg.JWTSecret, cfg.DB)
	requireSuperAdmin := RequireRole(model.RoleSuperAdmin)
	requireAdmin := RequireRole(model.RoleAdmin)

	// Public: login and metrics.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Farms: read (all roles), write (admin+).
	mux.Handle("GET /api/farms", authMW(http.HandlerFunc(farmsHandler.List)))
	mux.Handle("POST /api/farms", authMW(requireAdmin(http.HandlerFunc(farmsHandler.Create))))
	mux.Handle("GET /api/farms/{id}", authMW(http.HandlerFunc(farmsHandler.Get)))
	mux.Handle("PUT /api/farms/{id}", authMW(requireAdmin(http.HandlerFunc(farmsHandler.Update))))

	// Users (admin+, password resets superadmin only).
	mux.Handle("GET /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.List))))
	mux.Handle("POST /api/users", authMW(requireAdmin(http.HandlerFunc(usersHandler.Create))))
	mux.Handle("GET /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("PUT /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Update))))
	mux.Handle("PUT /api/users/{id}/password", authMW(requireSuperAdmin(http.HandlerFunc(usersHandler.ResetPassword))))
	mux.Handle("DELETE /api/users/{id}", authMW(requireAdmin(http.HandlerFunc(usersHandler.Delete))))

	// Stocks (all roles, scoped to the caller's farm).
	mux.Handle("GET /api/stocks", authMW(http.HandlerFunc(stocksHandler.List)))
	mux.Handle("POST /api/stocks", authMW(http.HandlerFunc(stocksHandler.Create)))
	mux.Handle("GET /api/stocks/aggregate", authMW(http.HandlerFunc(stocksHandler.Aggregate)))
	mux.Handle("GET /api/stocks/export", authMW(http.HandlerFunc(stocksHandler.Export)))
	mux.Handle("GET /api/stocks/{id}", authMW(http.HandlerFunc(stocksHandler.Get)))
	mux.Handle("PUT /api/stocks/{id}", authMW(http.HandlerFunc(stocksHandler.Update)))
	mux.Handle("DELETE /api/stocks/{id}", authMW(http.HandlerFunc(stocksHandler.Delete)))

	// Transfers (all roles).
	mux.Handle("GET /api/transfers", authMW(http.HandlerFunc(transfersHandler.List)))
	mux.Handle("POST /api/transfers", authMW(http.HandlerFunc(transfersHandler.Create)))
	mux.Handle("GET /api/transfers/export", authMW(http.HandlerFunc(transfersHandler.Export)))
	mux.Handle("GET /api/transfers/{id}", authMW(http.HandlerFunc(transfersHandler.Get)))
	mux.Handle("POST /api/transfers/{id}/confirm", authMW(http.HandlerFunc(transfersHandler.Confirm)))
	mux.Handle("POST /api/transfers/{id}/reject", authMW(http.HandlerFunc(transfersHandler.Reject)))
	mux.Handle("POST /api/transfers/{id}/cancel", authMW(http.HandlerFunc(transfersHandler.Cancel)))

	// Notification inbox.
	mux.Handle("GET /api/notifications", authMW(http.HandlerFunc(notificationsHandler.List)))
	mux.Handle("POST /api/notifications/{id}/ack", authMW(http.HandlerFunc(notificationsHandler.Acknowledge)))

	// Workers.
	mux.Handle("GET /api/workers", authMW(http.HandlerFunc(workersHandler.List)))
	mux.Handle("POST /api/workers", authMW(http.HandlerFunc(workersHandler.Create)))
	mux.Handle("POST /api/workers/{id}/exit", authMW(http.HandlerFunc(workersHandler.Exit)))

	// Live updates.
	mux.Handle("GET /api/ws", authMW(http.HandlerFunc(liveHandler.Subscribe)))

	return mux
}
