package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"synapse/backup"
	"synapse/models"
	"synapse/session"
	"synapse/store"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
	"github.com/rohanthewiz/serr"
)

// APIResponse provides a consistent JSON response structure for all API endpoints.
// Success responses include data, error responses include an error message.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// handlerTimeout bounds the store work behind one request.
const handlerTimeout = 30 * time.Second

// Deps is what the handlers operate on. Backups may be nil.
type Deps struct {
	Store   *store.Store
	Session *session.Session
	Backups *backup.Manager
	UserID  string
}

// API holds the handlers for the local HTTP surface.
type API struct {
	store   *store.Store
	session *session.Session
	backups *backup.Manager
	userID  string
}

func New(d Deps) *API {
	return &API{store: d.Store, session: d.Session, backups: d.Backups, userID: d.UserID}
}

func writeSuccess(ctx rweb.Context, status int, data interface{}) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: true, Data: data})
}

func writeError(ctx rweb.Context, status int, message string) error {
	ctx.SetStatus(status)
	return ctx.WriteJSON(APIResponse{Success: false, Error: message})
}

// writeStoreError maps store and validation failures onto HTTP statuses.
func writeStoreError(ctx rweb.Context, err error, action string) error {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return writeError(ctx, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotFound):
		return writeError(ctx, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrAlreadyExists):
		return writeError(ctx, http.StatusConflict, "already exists")
	}
	logger.LogErr(serr.Wrap(err, "failed to "+action), "database error")
	return writeError(ctx, http.StatusInternalServerError, "failed to "+action)
}

// decodeBody unmarshals the request body, rejecting unknown fields.
func decodeBody(ctx rweb.Context, v any) error {
	body := ctx.Request().Body()
	if len(body) == 0 {
		return serr.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return serr.Wrap(err, "failed to decode request body")
	}
	return nil
}

// storeCtx scopes store calls made on behalf of a request.
func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// GetCurrentUserID returns the user set by the auth middleware.
func GetCurrentUserID(ctx rweb.Context) string {
	id, _ := ctx.Get("user_id").(string)
	return id
}

// authorize ensures the caller acts for the user this device serves.
func (a *API) authorize(ctx rweb.Context) bool {
	return GetCurrentUserID(ctx) == a.userID
}

func (a *API) forbidden(ctx rweb.Context) error {
	if GetCurrentUserID(ctx) == "" {
		return writeError(ctx, http.StatusUnauthorized, "authentication required")
	}
	return writeError(ctx, http.StatusForbidden, "this device does not serve that user")
}
