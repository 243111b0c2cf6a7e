package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"omnireply/internal/repo"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from a valid token.
type Identity struct {
	UserID   string
	TenantID string
}

func identity(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

type claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

type auth struct {
	secret []byte
	ttl    time.Duration
	store  repo.Store
}

func newAuth(secret string, ttl time.Duration, store repo.Store) *auth {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &auth{secret: []byte(secret), ttl: ttl, store: store}
}

func (a *auth) issue(user *repo.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		TenantID: user.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *auth) verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid || c.Subject == "" || c.TenantID == "" {
		return Identity{}, errors.New("invalid token claims")
	}
	return Identity{UserID: c.Subject, TenantID: c.TenantID}, nil
}

func (a *auth) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := a.verify(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

type registerRequest struct {
	BusinessName string `json:"businessName"`
	BusinessType string `json:"businessType"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	Name         string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.BusinessName == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "businessName, email, and a password of at least 8 characters are required")
		return
	}

	if _, err := s.deps.Store.GetUserByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, repo.ErrNotFound) {
		s.logger.Error("lookup user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("hash password failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	tenant, err := s.deps.Store.CreateTenant(r.Context(), repo.Tenant{
		Name:         req.BusinessName,
		BusinessType: req.BusinessType,
	})
	if err != nil {
		s.logger.Error("create tenant failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	user, err := s.deps.Store.CreateUser(r.Context(), repo.User{
		TenantID:     tenant.ID,
		Email:        req.Email,
		PasswordHash: string(hash),
		Name:         req.Name,
	})
	if err != nil {
		s.logger.Error("create user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := s.auth.issue(user)
	if err != nil {
		s.logger.Error("issue token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	s.logger.Info("tenant registered", "tenant_id", tenant.ID, "email", req.Email)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, UserID: user.ID, TenantID: tenant.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.deps.Store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Error("lookup user failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.issue(user)
	if err != nil {
		s.logger.Error("issue token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, UserID: user.ID, TenantID: user.TenantID})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id := identity(r.Context())
	user, err := s.deps.Store.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "user no longer exists")
			return
		}
		s.logger.Error("load user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"tenantId": user.TenantID,
		"email":    user.Email,
		"name":     user.Name,
		"role":     user.Role,
	})
}
