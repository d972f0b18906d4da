package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/storage"
)

// maxAuthBody bounds auth request bodies at 64 KB.
const maxAuthBody = 64 << 10

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAuthBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "malformed request body"))
		return false
	}
	return true
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
	TokenType    string        `json:"tokenType"`
	ExpiresIn    int64         `json:"expiresIn"`
	User         *gateway.User `json:"user"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "username and password are required"))
		return
	}

	user, err := s.deps.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := s.deps.Tokens.IssuePair(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "refreshToken is required"))
		return
	}

	// Capture the user during rotation so the response can echo it.
	var user *gateway.User
	lookup := func(ctx context.Context, userID string) (*gateway.User, error) {
		u, err := s.deps.UserLookup(ctx, userID)
		if err == nil {
			user = u
		}
		return u, err
	}
	pair, err := s.deps.Tokens.Refresh(r.Context(), req.RefreshToken, lookup)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		User:         user,
	})
}

type keyCreateRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	ExpiresAt   *string  `json:"expiresAt,omitempty"` // RFC3339
}

// keyCreateResponse includes the plaintext key, shown only once.
type keyCreateResponse struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

func (s *server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, r, gateway.E(gateway.KindInvalidRequest, "name is required"))
		return
	}

	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil || identity.UserID == "" {
		writeError(w, r, gateway.E(gateway.KindForbidden, "API keys require a user credential"))
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, r, gateway.E(gateway.KindInvalidRequest, "invalid expiresAt format, use RFC3339"))
			return
		}
		expiresAt = &t
	}

	// A key never holds more than its creator: requested permissions are
	// clipped to the caller's own grant.
	perms := req.Permissions
	for _, p := range perms {
		if !identity.Can(p) {
			writeError(w, r, gateway.E(gateway.KindForbidden, "cannot grant permission %q beyond your own", p))
			return
		}
	}
	if len(perms) == 0 {
		perms = identity.Perms
	}

	key, plaintext, err := s.deps.Keys.Issue(r.Context(), identity.UserID, req.Name, identity.EffectiveTier(), perms, expiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, keyCreateResponse{
		ID:          key.ID,
		Key:         plaintext,
		Name:        key.Name,
		Permissions: key.Permissions,
		ExpiresAt:   key.ExpiresAt,
	})
}

// handleListAPIKeys returns the caller's own keys. The wire shape never
// carries secrets: the record exposes only the public id and metadata.
func (s *server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil || identity.UserID == "" {
		writeError(w, r, gateway.E(gateway.KindForbidden, "API keys require a user credential"))
		return
	}

	offset, limit := 0, 50
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	keys, err := s.deps.Keys.List(r.Context(), identity.UserID, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*gateway.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	identity := gateway.IdentityFromContext(r.Context())

	if s.deps.KeyLookup != nil {
		key, err := s.deps.KeyLookup(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, gateway.E(gateway.KindNotFound, "key %s not found", id))
				return
			}
			writeError(w, r, err)
			return
		}
		if identity.Role != "admin" && key.OwnerUserID != identity.UserID {
			// Hide other users' keys behind 404.
			writeError(w, r, gateway.E(gateway.KindNotFound, "key %s not found", id))
			return
		}
	}

	if err := s.deps.Keys.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
