package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Server implements the HTTP/WS surface of spec.md §6.1 against a
// FileStore/BlobStore pair, plus the auth endpoints described in
// SPEC_FULL.md §6.3. It is deliberately one flat handler set — no
// framework/router library appears anywhere in the example corpus (see
// DESIGN.md), so routing uses the stdlib net/http.ServeMux method+path
// patterns introduced in Go 1.22, grounded on the teacher's habit of
// keeping transport wiring a single small file (server/app.go).
type Server struct {
	Files  FileStore
	Blobs  BlobStore
	Tokens *TokenService
	Users  UserStore
	Logger *slog.Logger

	hub *pushHub
}

// NewServer builds a Server. logger may be nil (slog.Default is used).
func NewServer(files FileStore, blobs BlobStore, tokens *TokenService, users UserStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Files: files, Blobs: blobs, Tokens: tokens, Users: users, Logger: logger, hub: newPushHub()}
}

// Handler returns the complete routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)

	mux.HandleFunc("POST /files", s.authenticated(s.handleCreateFile))
	mux.HandleFunc("PUT /files/{path...}", s.authenticated(s.handleUpdateFile))
	mux.HandleFunc("GET /files/{path...}", s.authenticated(s.handleGetFile))
	mux.HandleFunc("GET /files", s.authenticated(s.handleListFiles))
	mux.HandleFunc("DELETE /files/{path...}", s.authenticated(s.handleDeleteFile))

	mux.HandleFunc("GET /changes", s.authenticated(s.handleChanges))

	mux.HandleFunc("HEAD /chunks/{hash}", s.authenticated(s.handleHeadChunk))
	mux.HandleFunc("POST /chunks/{hash}", s.authenticated(s.handlePostChunk))
	mux.HandleFunc("GET /chunks/{hash}", s.authenticated(s.handleGetChunk))

	mux.HandleFunc("GET /ws/changes", s.authenticated(s.handleWSChanges))

	return mux
}

func (s *Server) authenticated(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		userID, err := s.Tokens.ParseAccess(header[len(prefix):])
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// --- auth endpoints ---

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	u, err := s.Users.Create(r.Context(), req.Username, req.Password)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": u.ID})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	u, err := s.Users.GetByUsername(r.Context(), req.Username)
	if err != nil || !CheckPassword(u, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	access, refresh, err := s.Tokens.IssuePair(r.Context(), u.ID)
	if err != nil {
		http.Error(w, "token issuance failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	access, refresh, err := s.Tokens.RotateRefresh(r.Context(), req.RefreshToken)
	if err != nil {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, tokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

// --- file metadata endpoints, wire shapes matching remoteapi exactly ---

type fileMetadataDTO struct {
	Path        string   `json:"path"`
	Version     int64    `json:"version"`
	Size        int64    `json:"size"`
	Mtime       float64  `json:"mtime"`
	ContentHash string   `json:"content_hash"`
	ChunkHashes []string `json:"chunk_hashes"`
}

type createOrUpdateRequestDTO struct {
	Path          string   `json:"path"`
	Size          int64    `json:"size"`
	Mtime         float64  `json:"mtime"`
	ChunkHashes   []string `json:"chunk_hashes"`
	ContentHash   string   `json:"content_hash"`
	ParentVersion *int64   `json:"parent_version,omitempty"`
}

type versionConflictDTO struct {
	CurrentVersion int64  `json:"current_version"`
	ContentHash    string `json:"content_hash"`
}

func toDTO(rec FileRecord) fileMetadataDTO {
	return fileMetadataDTO{
		Path: rec.Path, Version: rec.Version, Size: rec.Size, Mtime: rec.Mtime,
		ContentHash: rec.ContentHash, ChunkHashes: rec.ChunkHashes,
	}
}

func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request, userID string) {
	var req createOrUpdateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.createOrUpdate(w, r, userID, req, nil)
}

func (s *Server) handleUpdateFile(w http.ResponseWriter, r *http.Request, userID string) {
	path := r.PathValue("path")
	var req createOrUpdateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Path = path
	s.createOrUpdate(w, r, userID, req, req.ParentVersion)
}

func (s *Server) createOrUpdate(w http.ResponseWriter, r *http.Request, userID string, req createOrUpdateRequestDTO, expectedVersion *int64) {
	rec := FileRecord{
		UserID: userID, Path: req.Path, Size: req.Size, Mtime: req.Mtime,
		ContentHash: req.ContentHash, ChunkHashes: req.ChunkHashes,
	}
	out, err := s.Files.CreateOrUpdate(r.Context(), rec, expectedVersion)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			current, getErr := s.Files.Get(r.Context(), userID, req.Path)
			if getErr == nil {
				writeJSON(w, http.StatusConflict, versionConflictDTO{CurrentVersion: current.Version, ContentHash: current.ContentHash})
				return
			}
			writeJSON(w, http.StatusConflict, versionConflictDTO{})
			return
		}
		if errors.Is(err, ErrNotFound) {
			// Updating a path that no longer exists live (deleted, or
			// never created) — the client's UpdateFile retries this as
			// a CreateFile.
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.publish(userID, PushMessage{Type: "updated", Path: out.Path, Version: out.Version})
	writeJSON(w, http.StatusOK, toDTO(out))
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, userID string) {
	path := r.PathValue("path")
	rec, err := s.Files.Get(r.Context(), userID, path)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toDTO(rec))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, userID string) {
	prefix := r.URL.Query().Get("prefix")
	recs, err := s.Files.List(r.Context(), userID, prefix)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]fileMetadataDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, userID string) {
	path := r.PathValue("path")
	change, err := s.Files.SoftDelete(r.Context(), userID, path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	version := int64(0)
	if change.Version != nil {
		version = *change.Version
	}
	s.hub.publish(userID, PushMessage{Type: "deleted", Path: path, Version: version})
	w.WriteHeader(http.StatusNoContent)
}

// --- changes ---

type changeDTO struct {
	Type      ChangeType `json:"type"`
	Path      string     `json:"path"`
	Version   *int64     `json:"version,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

type changesResponseDTO struct {
	Changes []changeDTO `json:"changes"`
	Cursor  string      `json:"cursor"`
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, userID string) {
	since := r.URL.Query().Get("since")
	changes, cursor, err := s.Files.ChangesSince(r.Context(), userID, since)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := make([]changeDTO, 0, len(changes))
	for _, c := range changes {
		out = append(out, changeDTO{Type: c.Type, Path: c.Path, Version: c.Version, DeletedAt: c.DeletedAt})
	}
	writeJSON(w, http.StatusOK, changesResponseDTO{Changes: out, Cursor: cursor})
}

// --- chunks ---

func (s *Server) handleHeadChunk(w http.ResponseWriter, r *http.Request, userID string) {
	hash := r.PathValue("hash")
	ok, err := s.Blobs.Has(r.Context(), hash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePostChunk(w http.ResponseWriter, r *http.Request, userID string) {
	hash := r.PathValue("hash")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.Blobs.Put(r.Context(), hash, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request, userID string) {
	hash := r.PathValue("hash")
	data, err := s.Blobs.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

// --- push ---

// PushMessage is the server->client WebSocket frame on /ws/changes,
// wire-compatible with remoteapi.PushMessage.
type PushMessage struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Version int64  `json:"version,omitempty"`
}

func (s *Server) handleWSChanges(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	s.hub.subscribe(userID, conn)
	defer s.hub.unsubscribe(userID, conn)

	<-ctx.Done()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
