// Package api implements the storage server HTTP endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/webdav"

	"github.com/juand-r/ius-dashboard/internal/logging"
	"github.com/juand-r/ius-dashboard/internal/metrics"
	"github.com/juand-r/ius-dashboard/internal/pathutil"
	"github.com/juand-r/ius-dashboard/internal/storage"
	"github.com/juand-r/ius-dashboard/webapp"
)

const multipartMemory = 32 << 20

// Server handles the dashboard HTTP API.
type Server struct {
	store         *storage.Store
	maxUploadSize int64
	handler       http.Handler
}

// New creates a server over the given store.
func New(store *storage.Store, maxUploadSize int64) *Server {
	s := &Server{
		store:         store,
		maxUploadSize: maxUploadSize,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /api/files", s.handleListFiles)
	mux.HandleFunc("GET /api/content/{path...}", s.handleContent)
	mux.HandleFunc("DELETE /api/files/{path...}", s.handleDelete)
	mux.Handle("/dav/", readOnly(&webdav.Handler{
		Prefix:     "/dav",
		FileSystem: webdav.Dir(store.Root()),
		LockSystem: webdav.NewMemLS(),
	}))
	mux.Handle("/", webapp.Handler())

	s.handler = logging.Middleware(metrics.Middleware(mux))
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordUpload(0, false)
			sendError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		sendError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		sendError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	rel := r.FormValue("path")
	if rel == "" {
		rel = header.Filename
	}
	if pathutil.CleanRelPath(rel) == "" {
		sendError(w, http.StatusBadRequest, "missing path")
		return
	}
	if _, err := pathutil.JoinWithinRoot(s.store.Root(), rel); err != nil {
		metrics.RecordUpload(0, false)
		sendError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if header.Size > s.maxUploadSize {
		metrics.RecordUpload(0, false)
		sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds %d bytes", s.maxUploadSize))
		return
	}

	collection := r.FormValue("collection")
	if collection == "" {
		collection = pathutil.DetectCollection(rel)
	}
	timestamp := r.FormValue("timestamp")
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	n, err := s.store.Put(rel, file)
	if err != nil {
		metrics.RecordUpload(0, false)
		logging.WithContext(r.Context()).Error("upload failed",
			logging.String("path", rel), logging.Err(err))
		sendError(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	metrics.RecordUpload(n, true)
	logging.WithContext(r.Context()).Info("file uploaded",
		logging.String("path", pathutil.CleanRelPath(rel)),
		logging.String("collection", collection),
		logging.Int64("size", n),
	)

	sendJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"path":       pathutil.CleanRelPath(rel),
		"size":       n,
		"collection": collection,
		"timestamp":  timestamp,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tree, err := s.store.BuildTree()
	if err != nil {
		logging.WithContext(r.Context()).Error("tree build failed", logging.Err(err))
		sendError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	metrics.RecordTreeBuild(time.Since(start))
	metrics.SetTreeSize(int64(tree.Count()))
	sendJSON(w, http.StatusOK, tree)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	f, info, err := s.store.Open(rel)
	if err != nil {
		metrics.RecordDownload(0, false)
		sendError(w, http.StatusNotFound, "file not found")
		return
	}
	defer f.Close()

	if info.Size() > s.maxUploadSize {
		// outsized files stream raw instead of loading into memory
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		metrics.RecordDownload(info.Size(), true)
		return
	}

	data := make([]byte, info.Size())
	if _, err := io.ReadFull(f, data); err != nil {
		metrics.RecordDownload(0, false)
		sendError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	switch {
	case strings.EqualFold(path.Ext(rel), ".json") && json.Valid(data):
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	case utf8.Valid(data):
		sendJSON(w, http.StatusOK, map[string]any{
			"content": string(data),
			"type":    "text",
		})
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	}
	metrics.RecordDownload(info.Size(), true)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if err := s.store.Delete(rel); err != nil {
		metrics.RecordDelete(false)
		if os.IsNotExist(err) || errors.Is(err, pathutil.ErrEscape) {
			sendError(w, http.StatusNotFound, "file not found")
			return
		}
		logging.WithContext(r.Context()).Error("delete failed",
			logging.String("path", rel), logging.Err(err))
		sendError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	metrics.RecordDelete(true)
	logging.WithContext(r.Context()).Info("file deleted",
		logging.String("path", pathutil.CleanRelPath(rel)))
	sendJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"path":   pathutil.CleanRelPath(rel),
	})
}

// readOnly restricts a handler to non-mutating WebDAV methods.
func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, "PROPFIND":
			next.ServeHTTP(w, r)
		default:
			sendError(w, http.StatusMethodNotAllowed, "read-only")
		}
	})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", logging.Err(err))
	}
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": message,
		"code":  status,
	})
}
