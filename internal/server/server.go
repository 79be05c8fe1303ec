package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/local/smartgarden/internal/auth"
	"github.com/local/smartgarden/internal/metrics"
	"github.com/local/smartgarden/internal/responder"
	"github.com/local/smartgarden/internal/statuscheck"
	"github.com/local/smartgarden/internal/store"
)

// Responder produces chat replies. It never fails.
type Responder interface {
	Respond(ctx context.Context, q responder.Query) responder.Reply
}

// PlantStore persists each user's plant list.
type PlantStore interface {
	LoadPlants(ctx context.Context, user string) ([]store.Plant, error)
	SavePlants(ctx context.Context, user string, plants []store.Plant) ([]store.Plant, error)
	AddPlant(ctx context.Context, user string, p store.Plant) (store.Plant, error)
	UpdatePlant(ctx context.Context, user string, p store.Plant) error
	DeletePlant(ctx context.Context, user, id string) error
	ClearPlants(ctx context.Context, user string) error
}

// Authenticator registers users and resolves bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (auth.Session, error)
	Login(ctx context.Context, username, password string) (auth.Session, error)
	Authenticate(ctx context.Context, token string) (string, error)
	Logout(ctx context.Context, token string) error
	Exists(ctx context.Context, username string) (bool, error)
}

// Uploader stores inline chat photos and returns an s3:// ref.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Weather returns the provider's current-conditions report as raw JSON.
type Weather interface {
	Current(ctx context.Context, location string) (json.RawMessage, error)
}

// StatusReporter reports dependency readiness.
type StatusReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies wires the server to its collaborators. Uploader, Weather and
// Status may be nil. When PhotoBucket is set, imageUri refs must name it.
type Dependencies struct {
	Responder    Responder
	Plants       PlantStore
	Auth         Authenticator
	Uploader     Uploader
	Weather      Weather
	Status       StatusReporter
	PhotoBucket  string
	UploadPrefix string
	MaxBodyBytes int64
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 10 << 20
	}
	return &Server{deps: deps}
}

// RegisterRoutes mounts every endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("POST /api/v1/auth/findByUsername", s.handleFindByUsername)

	mux.HandleFunc("GET /api/weather", s.handleWeather)

	mux.HandleFunc("POST /api/v1/chat", s.requireAuth(s.handleChat))

	mux.HandleFunc("GET /api/v1/plants", s.requireAuth(s.handleListPlants))
	mux.HandleFunc("POST /api/v1/plants", s.requireAuth(s.handleAddPlant))
	mux.HandleFunc("PUT /api/v1/plants", s.requireAuth(s.handleSavePlants))
	mux.HandleFunc("DELETE /api/v1/plants", s.requireAuth(s.handleClearPlants))
	mux.HandleFunc("PUT /api/v1/plants/{id}", s.requireAuth(s.handleUpdatePlant))
	mux.HandleFunc("DELETE /api/v1/plants/{id}", s.requireAuth(s.handleDeletePlant))
}

// Handler returns the routed mux wrapped with request logging and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return instrument(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status checks not configured")
		return
	}
	sum := s.deps.Status.Summary(r.Context())
	code := http.StatusOK
	if !sum.Ready() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}
