package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/Ayi456/panel-link/internal/models"
	"github.com/Ayi456/panel-link/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
)

// LinkService defines the interface for the link lifecycle engine.
type LinkService interface {
	// CreateLink registers a locator under a fresh link id and returns the stored record.
	CreateLink(ctx context.Context, params service.CreateLinkParams) (*models.Link, error)

	// ResolveLink resolves a link id into its locator.
	// Expired and absent ids are indistinguishable not-found errors.
	ResolveLink(ctx context.Context, id string) (string, error)

	// GetLinkInfo returns the full record plus whether the link is currently cached.
	GetLinkInfo(ctx context.Context, id string) (*models.LinkInfo, error)

	// UpdateLink modifies display metadata only.
	UpdateLink(ctx context.Context, id string, params service.UpdateLinkParams) (*models.Link, error)

	// DeleteLink removes a link and invalidates its cache entry.
	DeleteLink(ctx context.Context, id string) error

	// ShareURL returns the externally addressable URL for a link id.
	ShareURL(id string) string
}

// getValidate initializes a new validator instance for validating incoming request payloads.
// It customizes tag name extraction from struct fields to match JSON tags.
func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter initializes and returns a new HTTP router with all routes and middleware configured.
func NewRouter(logger *httplog.Logger, linkSvc LinkService) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           86400,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/links", func(r chi.Router) {
			r.Post("/", handleCreateLink(linkSvc, validate))

			r.Route("/{linkID}", func(r chi.Router) {
				r.Get("/", handleResolveLink(linkSvc))
				r.Patch("/", handleUpdateLink(linkSvc, validate))
				r.Delete("/", handleDeleteLink(linkSvc))
				r.Get("/info", handleGetLinkInfo(linkSvc))
			})
		})
	})

	return r
}
