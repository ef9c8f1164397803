package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"

	"github.com/google/uuid"
	"github.com/sandchat/sandchat/blob"
	"github.com/sandchat/sandchat/sandbox"
)

// handleDownload serves a file from a thread's sandbox container to the
// browser. Links of this shape are what the rewriter embeds in replies.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	container := r.URL.Query().Get("container")
	filename := r.URL.Query().Get("filename")
	if container == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "container and filename are required")
		return
	}
	if s.sandbox == nil {
		writeError(w, http.StatusInternalServerError, "sandbox is not configured")
		return
	}

	// Names are always resolved under the virtual data root; path traversal
	// collapses back into it.
	filePath := path.Join("/mnt/data", path.Clean("/"+filename))

	content, err := s.sandbox.ReadFile(r.Context(), container, filePath)
	if err != nil {
		if sandbox.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		s.logger.Error("download.read.failed", "container", container, "path", filePath, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	if !content.Success {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	data, err := content.Bytes()
	if err != nil {
		s.logger.Error("download.decode.failed", "path", filePath, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to decode file")
		return
	}

	contentType := content.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(filePath)}))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}

// handleUpload stores a multipart "file" field in the blob store and returns
// its durable URL.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.blobs == nil {
		writeError(w, http.StatusInternalServerError, "blob storage is not configured")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	name := fmt.Sprintf("%s-%s", uuid.NewString(), path.Base(header.Filename))

	url, err := s.blobs.Put(r.Context(), name, contentType, file)
	if err != nil {
		s.logger.Error("upload.store.failed", "name", name, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	s.logger.Info("upload.stored", "name", name, "size", header.Size)

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"url":%q}`, url)
}

// blobGetter is implemented by stores that keep blob bytes in-process. Stores
// with their own public URLs (S3) do not, and the serving route is skipped.
type blobGetter interface {
	Get(name string) ([]byte, string, error)
}

// handleBlob serves uploads stored by an in-process blob store, resolving the
// URLs handleUpload hands out in the default configuration.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	g, ok := s.blobs.(blobGetter)
	if !ok {
		writeError(w, http.StatusNotFound, "blob serving is not available")
		return
	}

	data, contentType, err := g.Get(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "blob not found")
			return
		}
		s.logger.Error("blob.read.failed", "name", r.PathValue("name"), "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to read blob")
		return
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.Write(data)
}
