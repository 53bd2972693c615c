package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig enables bearer authentication when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string
	// Leeway tolerates clock skew between token issuer and server.
	Leeway time.Duration
}

func (c AuthConfig) enabled() bool { return strings.TrimSpace(c.JWTSecret) != "" }

// Principal is the agent a request acts for. The token subject is the agent
// id; an optional team claim becomes the default team.
type Principal struct {
	AgentID string
	Team    string
}

type agentClaims struct {
	Team string `json:"team,omitempty"`
	jwt.RegisteredClaims
}

type principalKey struct{}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// agentIDFromContext returns the authenticated agent, or "" when the server
// runs without auth.
func agentIDFromContext(ctx context.Context) string {
	p, _ := principalFrom(ctx)
	return p.AgentID
}

func teamFromContext(ctx context.Context) string {
	p, _ := principalFrom(ctx)
	return p.Team
}

type authenticator struct {
	secret []byte
	parser *jwt.Parser
	open   map[string]bool
}

func newAuthenticator(basePath string, cfg AuthConfig) *authenticator {
	return &authenticator{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithLeeway(cfg.Leeway),
		),
		open: map[string]bool{
			path.Join(basePath, "health"):       true,
			path.Join(basePath, "openapi.json"): true,
			path.Join(basePath, "docs"):         true,
		},
	}
}

func (a *authenticator) principal(header string) (Principal, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return Principal{}, fmt.Errorf("expected a bearer token")
	}
	claims := &agentClaims{}
	if _, err := a.parser.ParseWithClaims(strings.TrimSpace(token), claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return Principal{}, err
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("token has no subject")
	}
	return Principal{AgentID: claims.Subject, Team: claims.Team}, nil
}

// newAuthMiddleware rejects unauthenticated requests under basePath. It is a
// pass-through when no secret is configured.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	if !cfg.enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	a := newAuthenticator(basePath, cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if a.open[req.URL.Path] || !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			header := req.Header.Get("Authorization")
			if strings.TrimSpace(header) == "" {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			p, err := a.principal(header)
			if err != nil {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials: "+err.Error(), nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalKey{}, p)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
