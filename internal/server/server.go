package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwhitfield/chorewheel/internal/assignment"
	"github.com/jwhitfield/chorewheel/internal/handler"
	"github.com/jwhitfield/chorewheel/internal/middleware"
	"github.com/jwhitfield/chorewheel/internal/notify"
	"github.com/jwhitfield/chorewheel/internal/rotation"
	"github.com/jwhitfield/chorewheel/internal/store"
	"github.com/jwhitfield/chorewheel/internal/swap"
	ws "github.com/jwhitfield/chorewheel/internal/websocket"
)

// Config carries the server's runtime settings.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	authH        *handler.AuthHandler
	groupH       *handler.GroupHandler
	taskH        *handler.TaskHandler
	assignmentH  *handler.AssignmentHandler
	swapH        *handler.SwapHandler
	pushH        *handler.PushHandler
	sessionStore *store.SessionStore
	memberStore  *store.MemberStore
	swapService  *swap.Service
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	users := store.NewUserStore(db)
	groups := store.NewGroupStore(db)
	members := store.NewMemberStore(db)
	tasks := store.NewTaskStore(db)
	assignments := store.NewAssignmentStore(db)
	swaps := store.NewSwapStore(db)
	sessions := store.NewSessionStore(db)
	pushSubs := store.NewPushStore(db)

	var webPush *notify.WebPush
	var pushH *handler.PushHandler
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		webPush = notify.NewWebPush(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubscriber)
		pushH = handler.NewPushHandler(pushSubs, webPush, logger.With("component", "push"))
	}
	notifier := notify.NewService(webPush, pushSubs, hub, logger.With("component", "notify"))

	scheduler := rotation.NewScheduler(groups, members, tasks, assignments, notifier, logger.With("component", "rotation"))
	swapSvc := swap.NewService(groups, members, tasks, assignments, swaps, notifier, logger.With("component", "swap"))
	assignmentSvc := assignment.NewService(members, tasks, assignments, notifier, logger.With("component", "assignment"))

	return &Server{
		db:           db,
		hub:          hub,
		authH:        handler.NewAuthHandler(users, groups, sessions, logger.With("component", "auth")),
		groupH:       handler.NewGroupHandler(groups, members, assignments, sessions, scheduler, logger.With("component", "group")),
		taskH:        handler.NewTaskHandler(tasks, notifier, logger.With("component", "task")),
		assignmentH:  handler.NewAssignmentHandler(groups, assignments, assignmentSvc, scheduler, logger.With("component", "assignment")),
		swapH:        handler.NewSwapHandler(groups, swaps, swapSvc, logger.With("component", "swap")),
		pushH:        pushH,
		sessionStore: sessions,
		memberStore:  members,
		swapService:  swapSvc,
		rateLimiter:  middleware.NewRateLimiter(),
		logger:       logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// SwapService returns the swap service for the expiry sweeper.
func (s *Server) SwapService() *swap.Service {
	return s.swapService
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("POST /api/register", s.rateLimitedHandler(s.authH.Register))
	outerMux.HandleFunc("POST /api/login", s.rateLimitedHandler(s.authH.Login))
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Everything else requires a session
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.sessionStore, s.memberStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/me", s.authH.Me)

	// Group membership bootstrap (no active group required)
	mux.HandleFunc("POST /api/groups", s.groupH.Create)
	mux.HandleFunc("POST /api/groups/join", s.groupH.Join)

	// Routes below need an active group
	grouped := http.NewServeMux()
	grouped.HandleFunc("GET /api/group", s.groupH.Get)
	grouped.HandleFunc("GET /api/group/members", s.groupH.Members)
	grouped.HandleFunc("POST /api/group/leave", s.groupH.Leave)

	grouped.HandleFunc("GET /api/tasks", s.taskH.List)
	grouped.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)

	grouped.HandleFunc("GET /api/assignments", s.assignmentH.List)
	grouped.HandleFunc("GET /api/assignments/{id}/window", s.assignmentH.Window)
	grouped.HandleFunc("POST /api/assignments/{id}/complete", s.assignmentH.Complete)

	grouped.HandleFunc("GET /api/swaps", s.swapH.List)
	grouped.HandleFunc("POST /api/swaps", s.swapH.Create)
	grouped.HandleFunc("POST /api/swaps/{id}/accept", s.swapH.Accept)
	grouped.HandleFunc("POST /api/swaps/{id}/reject", s.swapH.Reject)
	grouped.HandleFunc("POST /api/swaps/{id}/cancel", s.swapH.Cancel)

	grouped.HandleFunc("GET /ws", ws.Handle(s.hub, s.logger.With("component", "websocket")))

	if s.pushH != nil {
		grouped.HandleFunc("GET /api/push/key", s.pushH.VAPIDKey)
		grouped.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		grouped.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		grouped.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	}

	// Admin-only routes
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAdmin(h)
	}
	grouped.Handle("POST /api/tasks", adminOnly(s.taskH.Create))
	grouped.Handle("PUT /api/tasks/{id}", adminOnly(s.taskH.Update))
	grouped.Handle("DELETE /api/tasks/{id}", adminOnly(s.taskH.Delete))
	grouped.Handle("POST /api/tasks/{id}/slots", adminOnly(s.taskH.AddSlot))
	grouped.Handle("DELETE /api/tasks/{id}/slots/{slot_id}", adminOnly(s.taskH.DeleteSlot))
	grouped.Handle("POST /api/rotation/advance", adminOnly(s.groupH.Advance))
	grouped.Handle("POST /api/assignments/materialize", adminOnly(s.assignmentH.Materialize))
	grouped.Handle("POST /api/assignments/{id}/verify", adminOnly(s.assignmentH.Verify))
	grouped.Handle("POST /api/group/members/{id}/kick", adminOnly(s.groupH.Kick))
	grouped.Handle("PUT /api/group/members/{id}/role", adminOnly(s.groupH.SetRole))

	mux.Handle("/", middleware.RequireGroup(grouped))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}
