// Package reportapi is the read-only HTTP reporting surface: listings,
// rosters and exports for back-office tooling. It never mutates academic
// state; every handler goes through the store's snapshot reads.
package reportapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
	"github.com/trezcool/chuo/core/user"
)

const contextClaimsKey = "claims"

type (
	// EventSource reads a student's archived event history. Optional:
	// the in-memory debug setup has no archive and leaves it nil, and
	// the history endpoint answers 404.
	EventSource interface {
		EventsForStudent(ctx context.Context, studentID string) ([]academic.Event, error)
	}

	Deps struct {
		Conf    *core.Config
		Logger  core.Logger
		UserSvc user.Service
		AcadSvc academic.Service
		Events  EventSource
	}

	Server interface {
		http.Handler
		Start() error
		Stop(ctx context.Context) error
	}

	server struct {
		deps Deps
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(deps Deps) Server {
	s := &server{
		deps: deps,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.Pre(middleware.RemoveTrailingSlash())
	s.app.Use(middleware.Logger())
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.HTTPErrorHandler = newHTTPErrorHandler(s.deps.Logger)
	s.app.Debug = conf.Debug
	s.app.HideBanner = true

	s.app.GET("/", home)

	jwt := middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    conf.SecretKey,
		SigningMethod: middleware.AlgorithmHS256,
		Claims:        new(user.Claims),
	})
	v1 := s.app.Group("/v1", jwt, claimsMiddleware(s.deps.UserSvc))

	registerAcademicAPI(v1, s.deps.AcadSvc, s.deps.Events)
}

func (s *server) Start() error {
	return s.app.Start(s.deps.Conf.Server.ReportAddr)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Chuo reporting API")
}

// claimsMiddleware revalidates the raw token through the user service so
// revoked tokens (forced logout, password change) stop working here too.
func claimsMiddleware(svc user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			raw := strings.TrimPrefix(ctx.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			claims, err := svc.ValidateToken(raw)
			if err != nil {
				return errUnauthorized
			}
			ctx.Set(contextClaimsKey, claims)
			return next(ctx)
		}
	}
}

func getContextClaims(ctx echo.Context) (*user.Claims, error) {
	if claims, ok := ctx.Get(contextClaimsKey).(*user.Claims); ok {
		return claims, nil
	}
	return nil, errUnauthorized
}
