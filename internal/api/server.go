package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/orthopilot/claimpilot/internal/store"
	"github.com/orthopilot/claimpilot/internal/worker"
)

// Server is the HTTP surface over the claim store and the background
// dispatcher. All heavy work is enqueued; handlers return immediately.
type Server struct {
	echo       *echo.Echo
	store      store.Store
	dispatcher *worker.Dispatcher
	uploadDir  string
	log        zerolog.Logger
}

// NewServer builds the router. uploadDir must exist and be writable.
func NewServer(st store.Store, dispatcher *worker.Dispatcher, uploadDir string, log zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:       e,
		store:      st,
		dispatcher: dispatcher,
		uploadDir:  uploadDir,
		log:        log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.echo.Group("/api")

	api.GET("/healthz", s.handleHealth)

	api.POST("/patients", s.handleCreatePatient)
	api.GET("/patients/:id", s.handleGetPatient)
	api.POST("/patients/:id/documents", s.handleUploadPatientDocument)
	api.GET("/patients/:id/documents", s.handleListPatientDocuments)
	api.GET("/patients/:id/benefits", s.handleListBenefits)

	api.POST("/claims/upload", s.handleCreateClaimFromUpload)
	api.GET("/claims", s.handleListClaims)
	api.GET("/claims/:id", s.handleGetClaim)
	api.POST("/claims/:id/submit", s.handleSubmitClaim)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
