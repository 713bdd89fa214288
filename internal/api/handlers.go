package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-chi/chi/v5"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/profileservice"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	ts "github.com/DataConservancy/dcs-packaging-tool-sub000/internal/triplestore"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	sess *session.Session
}

// NewHandler creates a new Handler.
func NewHandler(sess *session.Session) *Handler {
	return &Handler{sess: sess}
}

// nodeID extracts the node identifier from the URL. Identifiers are URNs
// and may carry an escaped fragment, as in urn:uuid:...%23combo.
func nodeID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	if err := v.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

// Tree handles GET /tree.
//
//	@Summary		Get the whole package tree
//	@Tags			tree
//	@Produce		json
//	@Success		200	{object}	TreeResponse
//	@Security		BearerAuth
//	@Router			/tree [get]
func (h *Handler) Tree(w http.ResponseWriter, r *http.Request) {
	tr := h.sess.Snapshot()
	writeJSON(w, http.StatusOK, TreeResponse{
		Root:    tr.Root().ID,
		Profile: h.sess.Profile().ID,
		Typed:   h.sess.Typed(),
		Nodes:   tr.Nodes(),
	})
}

// Profile handles GET /profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Profile())
}

// GetNode handles GET /nodes/{id}.
//
//	@Summary		Get a node with its properties, valid types and transforms
//	@Tags			nodes
//	@Produce		json
//	@Param			id	path		string	true	"Node identifier"
//	@Success		200	{object}	NodeResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id} [get]
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	v, err := h.sess.Node(nodeID(r))
	if err != nil {
		writeError(w, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ValidTypes handles GET /nodes/{id}/valid-types.
func (h *Handler) ValidTypes(w http.ResponseWriter, r *http.Request) {
	nts, err := h.sess.ValidTypes(nodeID(r))
	if err != nil {
		writeError(w, "valid types", err)
		return
	}
	resp := ValidTypesResponse{Types: make([]NodeTypeDTO, 0, len(nts))}
	for _, nt := range nts {
		resp.Types = append(resp.Types, NodeTypeDTO{ID: nt.ID, Label: nt.Label})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangeType handles PUT /nodes/{id}/type.
//
//	@Summary		Change the type of a node
//	@Tags			nodes
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Node identifier"
//	@Param			body	body		ChangeTypeRequest	true	"New type"
//	@Success		200		{object}	NodeResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id}/type [put]
func (h *Handler) ChangeType(w http.ResponseWriter, r *http.Request) {
	var req ChangeTypeRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.ChangeType(id, req.Type); err != nil {
		writeError(w, "change type", err)
		return
	}
	h.writeNode(w, id)
}

// SetIgnored handles PUT /nodes/{id}/ignored.
func (h *Handler) SetIgnored(w http.ResponseWriter, r *http.Request) {
	var req IgnoredRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.SetIgnored(id, *req.Ignored); err != nil {
		writeError(w, "set ignored", err)
		return
	}
	h.writeNode(w, id)
}

// SetProperties handles PUT /nodes/{id}/properties.
func (h *Handler) SetProperties(w http.ResponseWriter, r *http.Request) {
	var req PropertiesRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.SetProperties(id, req.PropertyType, req.Values); err != nil {
		writeError(w, "set properties", err)
		return
	}
	h.writeNode(w, id)
}

// AddSubType handles POST /nodes/{id}/sub-types.
func (h *Handler) AddSubType(w http.ResponseWriter, r *http.Request) {
	var req SubTypeRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.AddSubType(id, req.Type); err != nil {
		writeError(w, "add sub type", err)
		return
	}
	h.writeNode(w, id)
}

// RemoveSubType handles DELETE /nodes/{id}/sub-types.
func (h *Handler) RemoveSubType(w http.ResponseWriter, r *http.Request) {
	var req SubTypeRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.RemoveSubType(id, req.Type); err != nil {
		writeError(w, "remove sub type", err)
		return
	}
	h.writeNode(w, id)
}

// Split handles POST /nodes/{id}/combo.
//
//	@Summary		Split a file node into a synthesised parent and child
//	@Tags			nodes
//	@Produce		json
//	@Param			id	path		string	true	"Node identifier"
//	@Success		201	{object}	ComboResponse
//	@Failure		422	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/nodes/{id}/combo [post]
func (h *Handler) Split(w http.ResponseWriter, r *http.Request) {
	parent, err := h.sess.Split(nodeID(r))
	if err != nil {
		writeError(w, "split", err)
		return
	}
	writeJSON(w, http.StatusCreated, ComboResponse{Parent: parent})
}

// Collapse handles POST /nodes/{id}/collapse.
func (h *Handler) Collapse(w http.ResponseWriter, r *http.Request) {
	removed, err := h.sess.Collapse(nodeID(r))
	if err != nil {
		writeError(w, "collapse", err)
		return
	}
	writeJSON(w, http.StatusOK, CollapseResponse{Removed: removed})
}

// Transform handles POST /nodes/{id}/transforms.
func (h *Handler) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if !decode(w, r, &req) {
		return
	}
	id := nodeID(r)
	if err := h.sess.Transform(id, req.Transform); err != nil {
		writeError(w, "transform", err)
		return
	}
	h.writeNode(w, id)
}

// Propagate handles POST /nodes/{id}/propagate.
func (h *Handler) Propagate(w http.ResponseWriter, r *http.Request) {
	id := nodeID(r)
	if err := h.sess.Propagate(id); err != nil {
		writeError(w, "propagate", err)
		return
	}
	h.writeNode(w, id)
}

// Validate handles GET /validation.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	vs := h.sess.Validate()
	if vs == nil {
		vs = []profileservice.Violation{}
	}
	writeJSON(w, http.StatusOK, ValidationResponse{Valid: len(vs) == 0, Violations: vs})
}

// Refresh handles POST /refresh.
//
//	@Summary		Rescan the package directory and merge the differences
//	@Tags			tree
//	@Produce		json
//	@Success		200	{object}	RefreshResponse
//	@Security		BearerAuth
//	@Router			/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := h.sess.Refresh()
	if err != nil {
		writeError(w, "refresh", err)
		return
	}
	resp := RefreshResponse{
		Changes: make([]ChangeDTO, 0, c.Len()),
		Grafted: len(c.Grafted()),
		Pruned:  len(c.Pruned()),
	}
	for _, loc := range c.Locations() {
		resp.Changes = append(resp.Changes, ChangeDTO{Location: loc, Status: c.Results[loc].Status.String()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// Graph handles GET /graph. The tree and its domain objects are returned
// as N-Triples.
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.sess.Graph()
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	w.Header().Set("Content-Type", "application/n-triples; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = ts.WriteNTriples(w, g)
}

func (h *Handler) writeNode(w http.ResponseWriter, id string) {
	v, err := h.sess.Node(id)
	if err != nil {
		writeError(w, "get node", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
