package api

import (
	"net/http"

	"synapse/models"

	"github.com/rohanthewiz/rweb"
)

// GetGraph handles GET /api/v1/graph
// Returns every active node and edge.
func (a *API) GetGraph(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	g, err := a.store.Graph().GetGraph(sctx, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "load graph")
	}
	return writeSuccess(ctx, http.StatusOK, g)
}

// CreateNode handles POST /api/v1/graph/nodes
func (a *API) CreateNode(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.NodePayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	n, err := a.store.Graph().CreateNode(sctx, &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "create node")
	}
	return writeSuccess(ctx, http.StatusCreated, n)
}

// GetNode handles GET /api/v1/graph/nodes/:id
// ?by=content or ?by=tag looks the node up by the entity it stands for.
func (a *API) GetNode(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	id := ctx.Request().Param("id")
	var (
		n   *models.Node
		err error
	)
	switch ctx.Request().QueryParam("by") {
	case "content":
		n, err = a.store.Graph().GetNodeByContentID(sctx, id, a.userID)
	case "tag":
		n, err = a.store.Graph().GetNodeByTagID(sctx, id, a.userID)
	case "":
		n, err = a.store.Graph().GetNodeByID(sctx, id, a.userID)
	default:
		return writeError(ctx, http.StatusBadRequest, "by must be content or tag")
	}
	if err != nil {
		return writeStoreError(ctx, err, "get node")
	}
	return writeSuccess(ctx, http.StatusOK, n)
}

// UpdateNode handles PUT /api/v1/graph/nodes/:id
func (a *API) UpdateNode(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.NodePayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	n, err := a.store.Graph().UpdateNode(sctx, ctx.Request().Param("id"), &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "update node")
	}
	return writeSuccess(ctx, http.StatusOK, n)
}

// DeleteNode handles DELETE /api/v1/graph/nodes/:id
// Edges touching the node are deleted first.
func (a *API) DeleteNode(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	id := ctx.Request().Param("id")
	if err := a.store.Graph().DeleteNode(sctx, id, a.userID); err != nil {
		return writeStoreError(ctx, err, "delete node")
	}
	return writeSuccess(ctx, http.StatusOK, map[string]string{"id": id})
}

// GetNodeEdges handles GET /api/v1/graph/nodes/:id/edges
func (a *API) GetNodeEdges(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	edges, err := a.store.Graph().GetEdges(sctx, ctx.Request().Param("id"), a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "get edges")
	}
	return writeSuccess(ctx, http.StatusOK, edges)
}

// CreateEdge handles POST /api/v1/graph/edges
func (a *API) CreateEdge(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	var input models.EdgePayload
	if err := decodeBody(ctx, &input); err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid JSON body")
	}
	e, err := a.store.Graph().CreateEdge(sctx, &input, a.userID)
	if err != nil {
		return writeStoreError(ctx, err, "create edge")
	}
	return writeSuccess(ctx, http.StatusCreated, e)
}

// DeleteEdge handles DELETE /api/v1/graph/edges/:id
func (a *API) DeleteEdge(ctx rweb.Context) error {
	if !a.authorize(ctx) {
		return a.forbidden(ctx)
	}
	sctx, cancel := storeCtx()
	defer cancel()

	id := ctx.Request().Param("id")
	if err := a.store.Graph().DeleteEdge(sctx, id, a.userID); err != nil {
		return writeStoreError(ctx, err, "delete edge")
	}
	return writeSuccess(ctx, http.StatusOK, map[string]string{"id": id})
}
