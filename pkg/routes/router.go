package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/feedback"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/syncer"
)

const APIPrefix = "/api/v1"

// Services are the domain services exposed over HTTP.
type Services struct {
	Store      *repositories.Store
	Detector   *dedup.Detector
	Merger     *merging.Engine
	Syncer     *syncer.Service
	Dispatcher syncer.Dispatcher
	Feedback   *feedback.Tracker
	Health     *health.Checker
	// Verifier enables bearer authentication. Without it the tenant and actor come from headers.
	Verifier middleware.TokenVerifier
}

// NewServer builds the echo server with the middleware chain and every route registered.
func NewServer(serviceName string, services Services, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	if services.Health != nil {
		services.Health.RegisterRoutes(e)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group(APIPrefix)
	if services.Verifier != nil {
		api.Use(middleware.Authentication(logger, services.Verifier))
	}
	api.Use(middleware.RequireTenant())

	NewDetectionHandler(services.Detector).Register(api.Group("/detections"))
	NewMergeHandler(services.Merger).Register(api.Group("/merges"))
	NewConnectionHandler(services.Store.Connections, services.Syncer, services.Dispatcher, logger).Register(api.Group("/connections"))

	fh := NewFeedbackHandler(services.Feedback)
	fh.Register(api.Group("/feedback"))
	fh.RegisterSuggestions(api.Group("/suggestions"))

	return e
}
