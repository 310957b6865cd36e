package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/nightguard/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 付き添いセッション
	EscortService EscortServiceInterface

	// ユーザー
	UserFinder UserFinderInterface

	// 運用
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Session → RateLimit(General)
//
// 認証ルート（/auth/*）、/health、/metricsはセッションガードの外に配置する。
// /panic/はセッションガードの内側だがレート制限の対象外とする。
// 緊急通報がリミッターに落とされることは許容できない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.CORSAllowedOrigin != "" {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	escortHandler := NewEscortHandler(deps.EscortService)
	userHandler := NewUserHandler(deps.UserFinder)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))

		// パニック通報はレート制限を通さない
		r.Post("/panic/", escortHandler.Panic)

		// 位置更新は専用の高レートリミッターを使う
		r.With(deps.RateLimiter.LocationUpdateMiddleware()).Post("/update_location/", escortHandler.UpdateLocation)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Post("/request-escort/", escortHandler.RequestEscort)
			r.Get("/escort/", escortHandler.EscortView)
			r.Post("/end-route/{session_id}/", escortHandler.EndRoute)
			r.Get("/home/", escortHandler.Home)
			r.Get("/settings/", userHandler.Settings)
		})
	})

	return r
}
