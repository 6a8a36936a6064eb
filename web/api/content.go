package api

import (
	"net/http"
	"net/url"
	"strconv"

	"synapse/models"
	"synapse/store"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// CreateContent handles POST /api/v1/content
// The id is generated when the body leaves it empty.
func (a *API) CreateContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.ContentPayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	c, err := a.store.Content().Create(sctx, &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "create content")
	}

	logger.Info("Content created", "id", c.ID, "type", c.Type)
	return writeSuccess(ctx, http.StatusCreated, c)
}

// GetContent handles GET /api/v1/content/:id
func (a *API) GetContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()
	c, err := a.store.Content().GetByID(sctx, ctx.Request().Param("id"), a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "get content")
	}
	return writeSuccess(ctx, http.StatusOK, c)
}

// ListContent handles GET /api/v1/content
//
// Query parameters:
//   - limit: page size (default 20, max 100)
//   - cursor: next_cursor from the previous page
//   - search: substring match on title and body
//   - type: note, media, link, todo or audio
//   - tag: tag id; repeat for content carrying any of several tags
func (a *API) ListContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	opts := store.ListOptions{
		Search: ctx.Request().QueryParam("search"),
		Type:   ctx.Request().QueryParam("type"),
		Cursor: ctx.Request().QueryParam("cursor"),
	}
	if limitStr := ctx.Request().QueryParam("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			return writeError(ctx, http.StatusBadRequest, "invalid limit parameter")
		}
		opts.Limit = limit
	}

	var tagIDs []string
	if queryStr := ctx.Request().Query(); queryStr != "" {
		if values, err := url.ParseQuery(queryStr); err == nil {
			tagIDs = values["tag"]
		}
	}

	var (
		page models.Page[models.Content]
		err  error
	)
	if len(tagIDs) > 0 {
		page, err = a.store.Content().GetByTagIDs(sctx, a.userID, tagIDs, opts)
	} else {
		page, err = a.store.Content().GetAll(sctx, a.userID, opts)
	}
	if err != nil {
		return writeStoreError(ctx, err, "list content")
	}
	return writeSuccess(ctx, http.StatusOK, page)
}

// UpdateContent handles PUT /api/v1/content/:id
// Only the fields present in the body change.
func (a *API) UpdateContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.ContentPayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	id := ctx.Request().Param("id")
	if input.ID != "" && input.ID != id {
		return writeError(ctx, http.StatusBadRequest, "id in body does not match the path")
	}

	c, err := a.store.Content().Update(sctx, id, &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "update content")
	}
	return writeSuccess(ctx, http.StatusOK, c)
}

// DeleteContent handles DELETE /api/v1/content/:id
// The item is tombstoned; it disappears from every listing immediately and
// is purged once the server confirms the delete.
func (a *API) DeleteContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()
	id := ctx.Request().Param("id")
	if err := a.store.Content().Delete(sctx, id, a.userID); err != nil {
		return writeStoreError(ctx, err, "delete content")
	}
	logger.Info("Content deleted", "id", id)
	return writeSuccess(ctx, http.StatusOK, map[string]string{"id": id})
}
