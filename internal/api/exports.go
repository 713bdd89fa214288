package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/session"
	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal/storage"
)

// ExportHandler writes graph snapshots into an export directory and serves
// them back.
type ExportHandler struct {
	sess  *session.Session
	store storage.Provider
}

// NewExportHandler creates a handler writing through store.
func NewExportHandler(sess *session.Session, store storage.Provider) *ExportHandler {
	return &ExportHandler{sess: sess, store: store}
}

// safeName validates that the filename is a plain name (no path separators,
// no traversal).
func safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") || strings.HasPrefix(cleaned, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}
	return cleaned, nil
}

// List handles GET /exports.
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.List("")
	if err != nil {
		writeError(w, "list exports", err)
		return
	}
	out := make([]ExportResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ExportResponse{Filename: e.Path, Size: e.Size, URL: "/exports/" + e.Path})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": out})
}

// Create handles POST /exports.
//
//	@Summary		Write the package graph as N-Triples to the export directory
//	@Tags			exports
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ExportRequest	true	"Export file name"
//	@Success		201		{object}	ExportResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/exports [post]
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !decode(w, r, &req) {
		return
	}
	name, err := safeName(req.Name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	n, err := h.store.WriteFunc(name, h.sess.Export)
	if err != nil {
		writeError(w, "write export", err)
		return
	}
	writeJSON(w, http.StatusCreated, ExportResponse{
		Filename: name,
		Size:     n,
		URL:      "/exports/" + name,
	})
}

// Delete handles DELETE /exports/{filename}.
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name, err := safeName(chi.URLParam(r, "filename"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	err = h.store.Delete(name)
	if errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorBody("export not found"))
		return
	}
	if err != nil {
		writeError(w, "delete export", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeFile handles GET /exports/{filename}.
func (h *ExportHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	name, err := safeName(chi.URLParam(r, "filename"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := h.store.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, "read export", err)
		return
	}
	w.Header().Set("Content-Type", "application/n-triples; charset=utf-8")
	_, _ = w.Write(data)
}
