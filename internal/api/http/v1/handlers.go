package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Ayi456/panel-link/internal/database"
	"github.com/Ayi456/panel-link/internal/models"
	"github.com/Ayi456/panel-link/internal/service"
	"github.com/Ayi456/panel-link/pkg/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// createLinkRequest represents the request payload for registering a locator.
type createLinkRequest struct {
	Locator     string `json:"locator" validate:"required"`
	OwnerID     *int64 `json:"owner_id" validate:"omitempty,min=1"`
	Title       string `json:"title" validate:"omitempty,max=255"`
	Description string `json:"description" validate:"omitempty,max=1024"`
	Public      bool   `json:"public"`
	TTLSeconds  int64  `json:"ttl_seconds" validate:"omitempty,min=1"`
}

// updateLinkRequest represents the request payload for updating display metadata.
// Absent fields are left unchanged.
type updateLinkRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=1024"`
	Public      *bool   `json:"public"`
}

// linkResponse represents the response payload for a link operation.
type linkResponse struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	OwnerID     *int64    `json:"owner_id,omitempty"`
	Locator     string    `json:"locator"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Public      bool      `json:"public"`
	VisitCount  int64     `json:"visit_count"`
	Status      string    `json:"status"`
	IsCached    *bool     `json:"is_cached,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// toLinkResponse converts a link model from the business layer into a response payload.
func toLinkResponse(link *models.Link, url string) linkResponse {
	return linkResponse{
		ID:          link.ID,
		URL:         url,
		OwnerID:     link.OwnerID,
		Locator:     link.Locator,
		Title:       link.Title,
		Description: link.Description,
		Public:      link.Public,
		VisitCount:  link.VisitCount,
		Status:      link.Status,
		CreatedAt:   link.CreatedAt,
		ExpiresAt:   link.ExpiresAt,
	}
}

// locatorResponse is the payload of a successful resolution.
type locatorResponse struct {
	Locator string `json:"locator"`
}

// handleCreateLink handles POST requests to register a locator under a fresh link id.
func handleCreateLink(svc LinkService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleCreateLink"
	const successMsg = "The link has been created successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req createLinkRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		link, err := svc.CreateLink(r.Context(), service.CreateLinkParams{
			Locator:     req.Locator,
			OwnerID:     req.OwnerID,
			Title:       req.Title,
			Description: req.Description,
			Public:      req.Public,
			TTL:         time.Duration(req.TTLSeconds) * time.Second,
		})
		if err != nil {
			if errors.Is(err, service.ErrEmptyLocator) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ValidationFailedResponse("The locator must not be empty."))
				return
			}
			if errors.Is(err, service.ErrTTLOutOfRange) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.ValidationFailedResponse("The requested ttl_seconds is out of range."))
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toLinkResponse(link, svc.ShareURL(link.ID))))
	}
}

// handleResolveLink handles GET requests to resolve a link id into its locator.
//
// Expired and never-existing ids both produce a 404; callers cannot probe
// which of the two it was.
func handleResolveLink(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleResolveLink"
	const successMsg = "The link was successfully resolved."

	return func(w http.ResponseWriter, r *http.Request) {
		linkID := chi.URLParam(r, "linkID")

		locator, err := svc.ResolveLink(r.Context(), linkID)
		if err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, locatorResponse{Locator: locator}))
	}
}

// handleGetLinkInfo handles GET requests for the full link record, including
// whether the link currently has a cache entry. Exposing the result is the
// caller's responsibility; authorization happens before requests reach this API.
func handleGetLinkInfo(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleGetLinkInfo"
	const successMsg = "The link info was successfully retrieved."

	return func(w http.ResponseWriter, r *http.Request) {
		linkID := chi.URLParam(r, "linkID")

		info, err := svc.GetLinkInfo(r.Context(), linkID)
		if err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		data := toLinkResponse(&info.Link, svc.ShareURL(info.ID))
		data.IsCached = &info.Cached

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}

// handleUpdateLink handles PATCH requests to modify a link's display metadata.
func handleUpdateLink(svc LinkService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleUpdateLink"
	const successMsg = "The link was successfully updated."

	return func(w http.ResponseWriter, r *http.Request) {
		var req updateLinkRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		linkID := chi.URLParam(r, "linkID")

		link, err := svc.UpdateLink(r.Context(), linkID, service.UpdateLinkParams{
			Title:       req.Title,
			Description: req.Description,
			Public:      req.Public,
		})
		if err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, toLinkResponse(link, svc.ShareURL(link.ID))))
	}
}

// handleDeleteLink handles DELETE requests to remove a link.
func handleDeleteLink(svc LinkService) http.HandlerFunc {
	const op = "api.http.handleDeleteLink"
	const successMsg = "The link was successfully deleted."

	return func(w http.ResponseWriter, r *http.Request) {
		linkID := chi.URLParam(r, "linkID")

		err := svc.DeleteLink(r.Context(), linkID)
		if err != nil {
			if errors.Is(err, database.ErrLinkNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg))
	}
}
