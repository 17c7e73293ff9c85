package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

type (
	ServerDeps struct {
		Conf        *core.Config
		Logger      core.Logger
		ProgressSvc *progress.Service
		Validate    *validator.Validate
		Translator  ut.Translator
	}

	Server struct {
		conf     *core.Config
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		conf:     deps.Conf,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup(deps)
	return s
}

func (s *Server) setup(deps ServerDeps) {
	s.app.HideBanner = true
	s.app.Debug = s.conf.Debug
	s.app.Logger.SetLevel(log.INFO)
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(deps.Logger, deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.RequestID())
	if !s.conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(s.conf.Debug || s.conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(s.conf))

	registerProgressAPI(v1, jwt, deps.ProgressSvc, deps.Validate, deps.Logger)
}

// Start blocks until the server stops. Listener failures are reported on Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.conf.Server.Addr); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.conf.AppName+" API!")
}
