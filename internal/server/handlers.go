package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vedsharma/apitester/internal/collection"
	"github.com/vedsharma/apitester/internal/draft"
	"github.com/vedsharma/apitester/internal/history"
	"github.com/vedsharma/apitester/internal/model"
	"github.com/vedsharma/apitester/internal/workspace"
)

// ErrorResponse is the body of every failed call
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// HealthResponse answers /health
type HealthResponse struct {
	Status string `json:"status"`
}

// WorkspaceResponse is the caller's editing state
type WorkspaceResponse struct {
	Draft    model.Draft     `json:"draft"`
	Response *model.Response `json:"response"`
	InFlight bool            `json:"in_flight"`
}

// SendResponse is the outcome of POST /api/send
type SendResponse struct {
	Request   model.ResolvedRequest `json:"request"`
	Response  model.Response        `json:"response"`
	Delivered bool                  `json:"delivered"`
}

// HistoryResponse lists history entries
type HistoryResponse struct {
	Entries []model.HistoryEntry `json:"entries"`
	HasMore bool                 `json:"has_more"`
}

// CreateCollectionRequest is the body of POST /api/collections
type CreateCollectionRequest struct {
	Name string `json:"name"`
}

// SaveItemRequest is the body of POST /api/collections/items. Exactly one
// of CollectionID and NewCollection selects the target.
type SaveItemRequest struct {
	CollectionID  *model.ID `json:"collection_id"`
	NewCollection string    `json:"new_collection"`
	Description   string    `json:"description"`
}

func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "healthy"})
}

func (s *Server) getWorkspace(c *fiber.Ctx) error {
	ws := current(c)
	return c.JSON(WorkspaceResponse{
		Draft:    ws.Draft(),
		Response: ws.Response(),
		InFlight: ws.InFlight(),
	})
}

func (s *Server) send(c *fiber.Ctx) error {
	var d model.Draft
	if err := c.BodyParser(&d); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if d.Method == "" {
		d.Method = model.MethodGet
	}

	ws := current(c)
	ws.SetDraft(d)
	res, err := ws.Send(c.UserContext())
	if err != nil {
		return commandError(c, err)
	}

	return c.JSON(SendResponse{
		Request:   res.Request,
		Response:  res.Response,
		Delivered: res.Delivered,
	})
}

func (s *Server) listHistory(c *fiber.Ctx) error {
	ws := current(c)
	if c.QueryBool("reload") {
		if err := ws.Sync(c.UserContext()); err != nil {
			return commandError(c, err)
		}
	}
	if c.QueryBool("more") {
		if err := ws.LoadMoreHistory(c.UserContext()); err != nil {
			return commandError(c, err)
		}
	}

	entries := history.Search(ws.History(), c.Query("search"))
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return c.JSON(HistoryResponse{Entries: entries, HasMore: ws.HasMoreHistory()})
}

func (s *Server) loadHistory(c *fiber.Ctx) error {
	ws := current(c)
	if err := ws.LoadFromHistory(c.Params("id")); err != nil {
		return commandError(c, err)
	}
	return s.getWorkspace(c)
}

func (s *Server) deleteHistory(c *fiber.Ctx) error {
	current(c).DeleteHistory(c.UserContext(), c.Params("id"))
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) listCollections(c *fiber.Ctx) error {
	cols := collection.Search(current(c).Collections(), c.Query("search"))
	if cols == nil {
		cols = []model.Collection{}
	}
	return c.JSON(cols)
}

func (s *Server) createCollection(c *fiber.Ctx) error {
	var req CreateCollectionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	ws := current(c)
	id, err := ws.CreateCollection(c.UserContext(), req.Name)
	if err != nil {
		return commandError(c, err)
	}
	col, _ := ws.Collection(id)
	return c.Status(fiber.StatusCreated).JSON(col)
}

func (s *Server) deleteCollection(c *fiber.Ctx) error {
	ws := current(c)
	id, ok := findCollection(ws, c.Params("id"))
	if !ok {
		return notFound(c, "Collection not found")
	}

	confirmed := c.QueryBool("confirm")
	err := ws.DeleteCollection(c.UserContext(), id, func(string) bool { return confirmed })
	if err != nil {
		return commandError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) saveItem(c *fiber.Ctx) error {
	var req SaveItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	var target collection.Target
	switch {
	case req.CollectionID != nil:
		target = collection.Into(*req.CollectionID)
	case strings.TrimSpace(req.NewCollection) != "":
		target = collection.IntoNew(req.NewCollection)
	default:
		target = collection.Into(model.ID{})
	}

	item, err := current(c).SaveToCollection(c.UserContext(), target, req.Description)
	if err != nil {
		return commandError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(item)
}

func (s *Server) loadItem(c *fiber.Ctx) error {
	ws := current(c)
	cid, iid, ok := findItem(ws, c.Params("cid"), c.Params("iid"))
	if !ok {
		return notFound(c, "Saved request not found")
	}
	if err := ws.LoadFromSaved(cid, iid); err != nil {
		return commandError(c, err)
	}
	return s.getWorkspace(c)
}

func (s *Server) deleteItem(c *fiber.Ctx) error {
	ws := current(c)
	cid, iid, ok := findItem(ws, c.Params("cid"), c.Params("iid"))
	if !ok {
		return notFound(c, "Saved request not found")
	}
	ws.DeleteItem(c.UserContext(), cid, iid)
	return c.SendStatus(fiber.StatusNoContent)
}

// findCollection maps a path value back to the tagged id held by the workspace
func findCollection(ws *workspace.Workspace, value string) (model.ID, bool) {
	for _, col := range ws.Collections() {
		if col.ID.Value == value {
			return col.ID, true
		}
	}
	return model.ID{}, false
}

func findItem(ws *workspace.Workspace, collectionValue, itemValue string) (model.ID, model.ID, bool) {
	cid, ok := findCollection(ws, collectionValue)
	if !ok {
		return model.ID{}, model.ID{}, false
	}
	col, _ := ws.Collection(cid)
	for _, it := range col.Items {
		if it.ID.Value == itemValue {
			return cid, it.ID, true
		}
	}
	return model.ID{}, model.ID{}, false
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   "bad_request",
		Message: message,
	})
}

func notFound(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

// commandError maps workspace errors onto status codes
func commandError(c *fiber.Ctx, err error) error {
	var verr *draft.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
			Error:   "validation",
			Field:   verr.Field,
			Message: verr.Message,
		})
	case errors.Is(err, workspace.ErrInFlight):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "in_flight",
			Message: "A request is already in flight",
		})
	case errors.Is(err, collection.ErrNotConfirmed):
		return c.Status(fiber.StatusPreconditionRequired).JSON(ErrorResponse{
			Error:   "confirmation_required",
			Message: collection.DeletePrompt,
		})
	case errors.Is(err, workspace.ErrNotFound):
		return notFound(c, err.Error())
	default:
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{
			Error:   "store",
			Message: err.Error(),
		})
	}
}
