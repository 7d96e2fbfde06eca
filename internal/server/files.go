package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/puppycloud/puppycloud/internal/chunkstore"
	"github.com/puppycloud/puppycloud/internal/storage"
)

// Multipart parts beyond this are spooled to temp files by net/http.
const maxUploadMemory = 32 << 20

// handleUpload handles POST /upload: store the file as one chunk and record
// its manifest.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	data, err := readFormFile(r, "file")
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}

	m, err := s.chunks.PutFile(data, formMime(r), s.now())
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		s.writeInternal(w, r, err)
		return
	}
	if err := s.db.UpsertManifest(m.ID(), raw); err != nil {
		s.writeInternal(w, r, err)
		return
	}
	s.log.Info("upload stored", "id", m.ID(), "size", m.TotalSize, "user", sessionUser(r))
	writeJSON(w, http.StatusOK, m)
}

// formMime returns the multipart "mime" field, or nil when the part is absent.
// Query parameters are not consulted.
func formMime(r *http.Request) *string {
	if r.MultipartForm == nil {
		return nil
	}
	vs, ok := r.MultipartForm.Value["mime"]
	if !ok || len(vs) == 0 {
		return nil
	}
	return &vs[0]
}

// readFormFile returns the bytes of the named part, or nil when it is absent.
func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read form file: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read form file: %w", err)
	}
	return data, nil
}

// handleGetChunk handles GET /chunks/{id} and returns the raw bytes.
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := s.chunks.Get(id)
	switch {
	case errors.Is(err, chunkstore.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid chunk id")
		return
	case errors.Is(err, chunkstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "chunk not found")
		return
	case err != nil:
		s.writeInternal(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleGetManifest handles GET /manifests/{id}.
func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !chunkstore.ValidID(id) {
		writeError(w, http.StatusBadRequest, "invalid manifest id")
		return
	}
	raw, err := s.db.GetManifest(id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "manifest not found")
		return
	case err != nil:
		s.writeInternal(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}
