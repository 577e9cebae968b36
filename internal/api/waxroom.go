package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/cmorrow/waxroom/internal/auth"
	"github.com/cmorrow/waxroom/internal/config"
	"github.com/cmorrow/waxroom/internal/database"
	"github.com/cmorrow/waxroom/internal/rooms"
	"github.com/cmorrow/waxroom/internal/stats"
)

const (
	sessionsIssuedMetric       = "SessionsIssued"
	sessionsRevokedMetric      = "SessionsRevoked"
	inviteRedemptionsMetric    = "InviteRedemptions"
	ingestAuthorizationsMetric = "IngestAuthorizations"
	eventConnectionsMetric     = "EventConnections"
)

type WaxroomApp struct {
	log            *log.Logger
	db             database.WaxroomRepository
	auth           *auth.AuthService
	rooms          *rooms.RoomService
	hub            *EventHub
	stats          stats.StatsProvider
	mux            *http.Server
	allowedOrigins []string
}

func NewWaxroomApp(mux *http.ServeMux, logger *log.Logger, authSvc *auth.AuthService,
	roomSvc *rooms.RoomService, db database.WaxroomRepository, statsProvider stats.StatsProvider,
	cfg *config.Config) *WaxroomApp {

	s := &WaxroomApp{
		log:            logger,
		db:             db,
		auth:           authSvc,
		rooms:          roomSvc,
		hub:            NewEventHub(logger),
		stats:          statsProvider,
		allowedOrigins: cfg.AllowedOrigins,
	}

	for _, metric := range []string{
		sessionsIssuedMetric,
		sessionsRevokedMetric,
		inviteRedemptionsMetric,
		ingestAuthorizationsMetric,
		eventConnectionsMetric,
	} {
		s.stats.RegisterMetric(metric)
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("POST /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("PUT /api/account", s.authMiddleware(s.updateAccount))
	mux.Handle("DELETE /api/account", s.authMiddleware(s.deleteAccount))

	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.listRooms))
	mux.Handle("GET /api/rooms/{slug}", s.authMiddleware(s.getRoom))
	mux.Handle("PATCH /api/rooms/{slug}", s.authMiddleware(s.updateRoom))
	mux.Handle("DELETE /api/rooms/{slug}", s.authMiddleware(s.deleteRoom))
	mux.Handle("POST /api/rooms/{slug}/leave", s.authMiddleware(s.leaveRoom))
	mux.Handle("DELETE /api/rooms/{slug}/members/{userId}", s.authMiddleware(s.removeMember))

	mux.Handle("POST /api/rooms/{slug}/invites", s.authMiddleware(s.createInvite))
	mux.Handle("GET /api/rooms/{slug}/invites", s.authMiddleware(s.listInvites))
	mux.Handle("POST /api/invites/{token}", s.authMiddleware(s.redeemInvite))
	mux.Handle("DELETE /api/invites/{id}", s.authMiddleware(s.revokeInvite))

	mux.Handle("POST /api/rooms/{slug}/keys", s.authMiddleware(s.createStreamKey))
	mux.Handle("GET /api/rooms/{slug}/keys", s.authMiddleware(s.listStreamKeys))
	mux.Handle("DELETE /api/keys/{id}", s.authMiddleware(s.revokeStreamKey))

	// The media-ingestion sidecar authenticates with the key token
	// itself; no session is involved.
	mux.HandleFunc("GET /api/ingest/{token}", s.authorizeIngest)

	mux.Handle("GET /api/rooms/{slug}/events", s.authMiddleware(s.serveEvents))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *WaxroomApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *WaxroomApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
