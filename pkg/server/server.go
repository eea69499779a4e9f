package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/smarthubsync/smarthubsync/pkg/log"
	"github.com/smarthubsync/smarthubsync/pkg/storage"
	"github.com/smarthubsync/smarthubsync/pkg/types"
)

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Updater runs update cycles and exposes their results.
type Updater interface {
	Update(ctx context.Context) ([]types.SensorState, error)
	Sensors() []types.SensorState
	RefreshAuthentication(ctx context.Context) error
	PollInterval() time.Duration
}

// Locator reports the time zone the provider counts usage days in.
type Locator interface {
	Location() *time.Location
}

// Server schedules update cycles and serves the HTTP API that forces them and
// reads their results.
type Server struct {
	updater  Updater
	storage  storage.Database
	location *time.Location

	listenAddr string
	httpServer *http.Server
	serverName string

	updateEmail      string
	updateVerifier   tokenVerifier
	disableScheduler bool
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(u Updater, s storage.Database, tz Locator) *Server {
	srv := &Server{
		updater:    u,
		storage:    s,
		serverName: "smarthubsync",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	updateAudience := lflag.String("update-oidc-audience", "", "Audience of the Google ID tokens allowed to call /api/update and /api/refreshAuthentication")
	updateEmail := lflag.String("update-email", "", "Email the ID token for /api/update must belong to")
	disableScheduler := lflag.Bool("disable-scheduler", false, "Only run update cycles when /api/update is called")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.updateEmail = *updateEmail
		srv.disableScheduler = *disableScheduler
		srv.location = tz.Location()

		if *updateAudience != "" {
			if srv.updateEmail == "" {
				log.Ctx(context.Background()).Error("update-email is required with update-oidc-audience")
				os.Exit(1)
			}
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.updateVerifier = provider.Verifier(&oidc.Config{ClientID: *updateAudience}).Verify
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.Handle("POST /api/update", s.updateAuthMiddleware(http.HandlerFunc(s.handleUpdate)))
	apiMux.Handle("POST /api/refreshAuthentication", s.updateAuthMiddleware(http.HandlerFunc(s.handleRefreshAuthentication)))
	apiMux.HandleFunc("GET /api/sensors", s.handleSensors)
	apiMux.HandleFunc("GET /api/statistics", s.handleStatistics)
	apiMux.HandleFunc("GET /api/statistics/metadata", s.handleStatisticMetadata)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.logMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and the update scheduler and blocks until the
// context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	schedulerDone := make(chan struct{})
	if s.disableScheduler {
		close(schedulerDone)
	} else {
		go func() {
			defer close(schedulerDone)
			s.schedule(ctx, s.updater.PollInterval())
		}()
	}

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		<-schedulerDone
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// schedule runs an update cycle immediately and then every interval until
// ctx is done.
func (s *Server) schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Ctx(ctx).InfoContext(ctx, "starting update scheduler", slog.Duration("interval", interval))
	for {
		// failures are logged by the updater and retried on the next tick
		_, _ = s.updater.Update(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
