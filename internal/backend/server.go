/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	applog "gonovel/internal/log"
	"gonovel/internal/version"
)

// Repository is the read side the HTTP API serves from. *Store implements it.
type Repository interface {
	ListScripts(ctx context.Context, story string) ([]ScriptInfo, error)
	GetScript(ctx context.Context, story, id string) (Script, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr       string // bind address, e.g. ":8080"
	AuthSecret string // HMAC secret for bearer tokens
}

const devSecret = "dev-secret-change-me"

// AccessKey returns the key callers present to obtain a token from a server
// configured with secret. An empty secret means the dev secret.
func AccessKey(secret string) string {
	if secret == "" {
		secret = devSecret
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte("gonovel access key"))
	return hex.EncodeToString(h.Sum(nil))
}

// NewHandler returns the HTTP API over repo.
//
//	GET  /healthz, /readyz, /version
//	POST /api/auth/token {subject, key}    -> {token, expires_at}
//	GET  /api/stories/{story}/scripts      (auth)
//	GET  /api/stories/{story}/scripts/{id} (auth)
//
// Tokens are only issued for a key equal to AccessKey(secret).
func NewHandler(repo Repository, secret string, l *slog.Logger) http.Handler {
	if l == nil {
		l = applog.WithComponent("backend")
	}
	if secret == "" {
		secret = devSecret
		l.Warn("auth secret not set; using insecure dev secret")
	}
	accessKey := []byte(AccessKey(secret))
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := repo.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("gonovel " + version.String()))
	})

	mux.HandleFunc("/api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Subject    string `json:"subject"`
			Key        string `json:"key"`
			TTLSeconds int64  `json:"ttl_seconds"`
		}
		b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		_ = json.Unmarshal(b, &req)
		if !hmac.Equal([]byte(req.Key), accessKey) {
			l.Warn("token request rejected", slog.String("remote", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid access key"))
			return
		}
		if req.Subject == "" {
			req.Subject = "dev"
		}
		if req.TTLSeconds <= 0 || req.TTLSeconds > 24*3600 {
			req.TTLSeconds = 3600
		}
		exp := time.Now().Add(time.Duration(req.TTLSeconds) * time.Second)
		tok, err := signToken(secret, req.Subject, exp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      tok,
			"expires_at": exp.UTC().Format(time.RFC3339),
		})
	})

	mux.HandleFunc("/api/stories/", withAuth(secret, func(w http.ResponseWriter, r *http.Request, sub string) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		// /api/stories/{story}/scripts[/{id}]
		parts := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
		if len(parts) < 4 || len(parts) > 5 || parts[0] != "api" || parts[1] != "stories" || parts[3] != "scripts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		story, err := url.PathUnescape(parts[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid story"))
			return
		}
		if len(parts) == 4 {
			list, err := repo.ListScripts(r.Context(), story)
			if err != nil {
				l.Error("list scripts failed", slog.String("story", story), slog.Any("err", err))
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, list)
			return
		}
		id, err := url.PathUnescape(parts[4])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid script id"))
			return
		}
		sc, err := repo.GetScript(r.Context(), story, id)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, err)
		case err != nil:
			l.Error("get script failed", slog.String("story", story), slog.String("script", id), slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, err)
		default:
			l.Debug("script served", slog.String("story", story), slog.String("script", id), slog.String("sub", sub))
			writeJSON(w, http.StatusOK, sc)
		}
	}))
	return mux
}

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, cfg ServerConfig, repo Repository) error {
	l := applog.WithComponent("backend")
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(repo, cfg.AuthSecret, l),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

type tokenClaims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"` // unix seconds
}

func signToken(secret, subject string, exp time.Time) (string, error) {
	b, err := json.Marshal(tokenClaims{Sub: subject, Exp: exp.Unix()})
	if err != nil {
		return "", err
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(b)
	return base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

func verifyToken(secret, token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid token format")
	}
	payloadB, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid token payload")
	}
	sigB, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid token signature")
	}
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write(payloadB)
	if !hmac.Equal(h.Sum(nil), sigB) {
		return "", fmt.Errorf("bad signature")
	}
	var claims tokenClaims
	if err := json.Unmarshal(payloadB, &claims); err != nil {
		return "", fmt.Errorf("bad claims")
	}
	if claims.Exp < time.Now().Unix() {
		return "", fmt.Errorf("token expired")
	}
	if claims.Sub == "" {
		claims.Sub = "dev"
	}
	return claims.Sub, nil
}

func withAuth(secret string, next func(w http.ResponseWriter, r *http.Request, subject string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(strings.ToLower(auth), strings.ToLower(prefix)) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing bearer token"))
			return
		}
		sub, err := verifyToken(secret, strings.TrimSpace(auth[len(prefix):]))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		next(w, r, sub)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
