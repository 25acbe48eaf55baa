package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pbzweihander/contcont/internal/fediverse"
	"github.com/pbzweihander/contcont/internal/session"
	"github.com/pbzweihander/contcont/internal/store"
)

const (
	sessionCookie      = "SESSION"
	loginSessionCookie = "LOGIN_SESSION"

	// The pending-login cookie only needs to survive the round trip to the
	// remote instance and back.
	loginSessionTTL = 10 * time.Minute
)

type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/healthz" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/readyz" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.service.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOT_READY", "database unreachable", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/name" {
		writeJSON(w, http.StatusOK, map[string]any{"name": s.service.ContestName()})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/enabled" {
		writeJSON(w, http.StatusOK, s.service.EnabledCategories())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/dates" {
		writeJSON(w, http.StatusOK, s.service.Windows())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/submission/opened" {
		writeJSON(w, http.StatusOK, s.service.SubmissionStatus())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/voting/opened" {
		writeJSON(w, http.StatusOK, s.service.VotingStatus())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/contest/results/opened" {
		writeJSON(w, http.StatusOK, s.service.ResultsStatus())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/callback" {
		s.handleCallback(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/auth/me" {
		identity, ok := s.identityFromCookie(r)
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"handle":        identity.Handle,
			"instance":      identity.Instance,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/logout" {
		clearCookie(w, sessionCookie)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "literature" {
		s.handleLiterature(w, r, parts[2:])
		return
	}
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "art" {
		s.handleArt(w, r, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Account string `json:"account"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	redirectURL, loginState, err := s.service.BeginLogin(r.Context(), body.Account)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     loginSessionCookie,
		Value:    loginState,
		Path:     "/",
		MaxAge:   int(loginSessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{"authUrl": redirectURL})
}

func (s *HTTPServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(loginSessionCookie)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	cb := fediverse.Callback{
		Token: r.URL.Query().Get("token"),
		Code:  r.URL.Query().Get("code"),
		State: r.URL.Query().Get("state"),
	}
	credential, _, err := s.service.CompleteLogin(r.Context(), cb, cookie.Value)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	clearCookie(w, loginSessionCookie)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    credential,
		Path:     "/",
		MaxAge:   int(session.TTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *HTTPServer) handleLiterature(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			viewer := s.optionalIdentity(r)
			items, err := s.service.ListLiterature(r.Context(), viewer)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"literatures": items})
			return
		}
		if r.Method == http.MethodPost {
			author, ok := s.requireIdentity(w, r)
			if !ok {
				return
			}
			var body struct {
				Title  string `json:"title"`
				Text   string `json:"text"`
				IsNsfw bool   `json:"isNsfw"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.service.SubmitLiterature(r.Context(), author, body.Title, body.Text, body.IsNsfw)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, item)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "results" && r.Method == http.MethodGet {
		items, err := s.service.LiteratureResults(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": items})
		return
	}

	id, ok := parseID(w, rest[0])
	if !ok {
		return
	}

	if len(rest) == 1 && r.Method == http.MethodGet {
		item, err := s.service.GetLiterature(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	if len(rest) == 2 && rest[1] == "vote" {
		voter, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodGet {
			status, err := s.service.LiteratureVoteStatus(r.Context(), voter, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"voted": status.Voted, "totalVotes": status.TotalVotes})
			return
		}
		if r.Method == http.MethodPost {
			if err := s.service.VoteLiterature(r.Context(), voter, id); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleArt(w http.ResponseWriter, r *http.Request, rest []string) {
	if len(rest) == 0 {
		if r.Method == http.MethodGet {
			viewer := s.optionalIdentity(r)
			items, err := s.service.ListArt(r.Context(), viewer)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"arts": items})
			return
		}
		if r.Method == http.MethodPost {
			s.handleArtSubmit(w, r)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(rest) == 1 && rest[0] == "results" && r.Method == http.MethodGet {
		items, err := s.service.ArtResults(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": items})
		return
	}

	id, ok := parseID(w, rest[0])
	if !ok {
		return
	}

	if len(rest) == 1 && r.Method == http.MethodGet {
		item, err := s.service.GetArtMetadata(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	if len(rest) == 2 && rest[1] == "data" && r.Method == http.MethodGet {
		data, err := s.service.GetArtData(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_, _ = w.Write(data)
		return
	}

	if len(rest) == 2 && rest[1] == "vote" {
		voter, ok := s.requireIdentity(w, r)
		if !ok {
			return
		}
		if r.Method == http.MethodGet {
			status, err := s.service.ArtVoteStatus(r.Context(), voter, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"voted": status.Voted, "totalVotes": status.TotalVotes})
			return
		}
		if r.Method == http.MethodPost {
			if err := s.service.VoteArt(r.Context(), voter, id); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleArtSubmit(w http.ResponseWriter, r *http.Request) {
	author, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}

	// A megabyte of slack over the image limit covers the other form fields
	// and the multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, maxArtBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "ART_TOO_LARGE", fmt.Sprintf("image must be at most %d bytes", maxArtBytes), nil)
		return
	}

	file, _, err := r.FormFile("data")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "image file is required", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "ART_TOO_LARGE", fmt.Sprintf("image must be at most %d bytes", maxArtBytes), nil)
		return
	}

	isNsfw, _ := strconv.ParseBool(r.FormValue("isNsfw"))
	item, err := s.service.SubmitArt(r.Context(), author, r.FormValue("title"), r.FormValue("description"), isNsfw, data)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, store.ArtMetadata{
		ID:             item.ID,
		Title:          item.Title,
		Description:    item.Description,
		IsNsfw:         item.IsNsfw,
		AuthorHandle:   item.AuthorHandle,
		AuthorInstance: item.AuthorInstance,
	})
}

func (s *HTTPServer) identityFromCookie(r *http.Request) (session.Identity, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return session.Identity{}, false
	}
	identity, err := s.service.Authenticate(cookie.Value)
	if err != nil {
		return session.Identity{}, false
	}
	return identity, true
}

func (s *HTTPServer) optionalIdentity(r *http.Request) *session.Identity {
	identity, ok := s.identityFromCookie(r)
	if !ok {
		return nil
	}
	return &identity
}

func (s *HTTPServer) requireIdentity(w http.ResponseWriter, r *http.Request) (session.Identity, bool) {
	identity, ok := s.identityFromCookie(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return session.Identity{}, false
	}
	return identity, true
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrVoteLimit) || errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflict", nil
	}
	if errors.Is(err, session.ErrUnauthenticated) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
