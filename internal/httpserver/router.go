package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"rigdata/internal/auth"
	"rigdata/internal/config"
	"rigdata/internal/httpserver/handlers"
	"rigdata/internal/metrics"
	"rigdata/internal/models"
	"rigdata/internal/stats"
)

func NewRouter(db *gorm.DB, cfg *config.Config, lg *zap.SugaredLogger) http.Handler {
	loc := cfg.Display.Location()
	authSvc := auth.NewService(db,
		auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL),
		cfg.Auth.MaxFailedLogins, cfg.Auth.LockDuration)
	authn := auth.NewAuthenticator(authSvc, lg)
	statsSvc := stats.NewService(db, loc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(httprate.LimitByIP(cfg.Server.RateLimit, cfg.Server.RateWindow))

		keys := &handlers.APIKeys{DB: db, Log: lg, Loc: loc}
		api.Route("/auth", func(a chi.Router) {
			a.With(httprate.LimitByIP(cfg.Server.LoginRateLimit, time.Minute)).
				Post("/login", handlers.Login(authSvc, lg, loc))
			a.Post("/refresh", handlers.Refresh(authSvc, lg, loc))
			a.With(authn.RequireAPIKey()).Get("/key", keys.Self())
			a.Group(func(p chi.Router) {
				p.Use(authn.RequireAuth)
				p.Get("/me", handlers.Me(loc))
				p.Post("/logout", handlers.Logout(authSvc, lg))
				p.Post("/change-password", handlers.ChangePassword(authSvc, lg))
			})
		})

		read := authn.RequireCredential("", models.PermissionRead)
		write := authn.RequireCredential(models.PermissionWrite, models.PermissionUpload)
		admin := authn.RequireRole(models.RoleAdmin)
		staff := authn.RequireRole(models.RoleAdmin, models.RoleManager)

		recs := handlers.NewRecords(db, lg, loc)
		api.Route("/wifi_board_tests", func(sr chi.Router) {
			handlers.NewStats(stats.WifiBoards, statsSvc, lg).Mount(sr, read)
			recs.WifiBoards.Mount(sr, read, write, admin)
		})
		api.Route("/driver_board_tests", func(sr chi.Router) {
			handlers.NewStats(stats.DriverBoards, statsSvc, lg).Mount(sr, read)
			recs.DriverBoards.Mount(sr, read, write, admin)
		})
		api.Route("/integrate_tests", func(sr chi.Router) {
			handlers.NewStats(stats.Products, statsSvc, lg).Mount(sr, read)
			recs.Integrate.Mount(sr, read, write, admin)
		})
		api.Route("/temperature_data", func(sr chi.Router) {
			recs.Temperature.Mount(sr, read, write, admin)
		})
		api.Route("/wifi_test_logs", func(sr chi.Router) {
			recs.WifiLogs.Mount(sr, read, write, admin)
		})

		users := &handlers.Users{DB: db, Auth: authSvc, Log: lg, Loc: loc}
		api.Route("/users", func(ur chi.Router) {
			ur.With(staff).Get("/", users.List())
			ur.With(admin).Post("/", users.Create())
			ur.With(staff).Get("/{id}", users.Get())
			ur.With(admin).Put("/{id}", users.Update())
			ur.With(admin).Delete("/{id}", users.Delete())
			ur.With(admin).Post("/{id}/unlock", users.Unlock())
		})

		api.Route("/api-keys", func(kr chi.Router) {
			kr.With(staff).Get("/", keys.List())
			kr.With(admin).Post("/", keys.Create())
			kr.With(staff).Get("/{id}", keys.Get())
			kr.With(admin).Put("/{id}", keys.Update())
			kr.With(staff).Delete("/{id}", keys.Revoke())
		})

		api.With(authn.RequirePermission(models.PermissionManage)).Get("/audit-logs", handlers.ListAuditLogs(db, lg, loc))
	})
	return r
}
