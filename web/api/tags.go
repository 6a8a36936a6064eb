package api

import (
	"net/http"

	"synapse/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/rweb"
)

// CreateTag handles POST /api/v1/tags
func (a *API) CreateTag(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.TagPayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	tag, err := a.store.Tags().Create(sctx, &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "create tag")
	}

	logger.Info("Tag created", "id", tag.ID, "title", tag.Title)
	return writeSuccess(ctx, http.StatusCreated, tag)
}

// ListTags handles GET /api/v1/tags
// With ?title= it returns the single tag of that title instead.
func (a *API) ListTags(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	if title := ctx.Request().QueryParam("title"); title != "" {
		tag, err := a.store.Tags().GetByTitle(sctx, title, a.userID)
		if err != nil {
			return writeStoreError(ctx, err, "get tag")
		}
		return writeSuccess(ctx, http.StatusOK, tag)
	}

	tags, err := a.store.Tags().GetAll(sctx, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "list tags")
	}
	return writeSuccess(ctx, http.StatusOK, tags)
}

// UpdateTag handles PUT /api/v1/tags/:id
func (a *API) UpdateTag(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.TagPayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	tag, err := a.store.Tags().Update(sctx, ctx.Request().Param("id"), &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "update tag")
	}
	return writeSuccess(ctx, http.StatusOK, tag)
}

// DeleteTag handles DELETE /api/v1/tags/:id
// Associations to content go with it.
func (a *API) DeleteTag(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	id := ctx.Request().Param("id")
	if err := a.store.Tags().Delete(sctx, id, a.userID); err != nil {
		return writeStoreError(ctx, err, "delete tag")
	}
	return writeSuccess(ctx, http.StatusOK, map[string]string{"id": id})
}

// GetContentTags handles GET /api/v1/content/:id/tags
func (a *API) GetContentTags(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	tags, err := a.store.Tags().GetByContentID(sctx, ctx.Request().Param("id"), a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "get content tags")
	}
	return writeSuccess(ctx, http.StatusOK, tags)
}

// ReplaceContentTags handles PUT /api/v1/content/:id/tags
// Body: {"tag_ids": ["...", "..."]}
func (a *API) ReplaceContentTags(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var req struct {
		TagIDs []string `json:"tag_ids"`
	}
	if err := decodeBody(ctx, &req); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}

	contentID := ctx.Request().Param("id")
	if err := a.store.Tags().ReplaceContentTags(sctx, contentID, req.TagIDs, a.userID); err != nil {
		return writeStoreError(ctx, err, "replace content tags")
	}
	tags, err := a.store.Tags().GetByContentID(sctx, contentID, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "get content tags")
	}
	return writeSuccess(ctx, http.StatusOK, tags)
}

// AddTagToContent handles POST /api/v1/content/:id/tags/:tag_id
func (a *API) AddTagToContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	ct, err := a.store.Tags().AddToContent(sctx, ctx.Request().Param("id"), ctx.Request().Param("tag_id"), a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "tag content")
	}
	return writeSuccess(ctx, http.StatusCreated, ct)
}

// RemoveTagFromContent handles DELETE /api/v1/content/:id/tags/:tag_id
func (a *API) RemoveTagFromContent(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	if err := a.store.Tags().RemoveFromContent(sctx, ctx.Request().Param("id"), ctx.Request().Param("tag_id"), a.userID); err != nil {
		return writeStoreError(ctx, err, "untag content")
	}
	return writeSuccess(ctx, http.StatusOK, nil)
}
