package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/utils"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const principalKey contextKey = "principal"

// RoleAdmin is required for back-office routes.
const RoleAdmin = "admin"

type Principal struct {
	Subject string
	Roles   []string
}

func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Principal, error)
}

type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys. Client ids are not checked,
// so access tokens from any client of the realm are accepted.
func NewOIDCVerifier(ctx context.Context, issuer string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{SkipClientIDCheck: true})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Principal, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}

	// Keycloak puts realm roles under realm_access
	var claims struct {
		Sub         string   `json:"sub"`
		Roles       []string `json:"roles"`
		RealmAccess struct {
			Roles []string `json:"roles"`
		} `json:"realm_access"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return &Principal{Subject: claims.Sub, Roles: append(claims.Roles, claims.RealmAccess.Roles...)}, nil
}

// NewVerifier prefers OIDC and falls back to HS256 tokens signed with the
// shared secret.
func NewVerifier(ctx context.Context, cfg config.AuthConfig) (Verifier, error) {
	if cfg.OIDCIssuer != "" {
		return NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	}
	if cfg.HMACSecret != "" {
		return NewHMACVerifier(cfg.HMACSecret), nil
	}
	return nil, errors.New("neither OIDC_ISSUER nor ADMIN_JWT_SECRET is set")
}

// Middleware rejects requests without a valid bearer token, or without role
// when role is not empty.
func Middleware(v Verifier, role string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", err.Error()))
				return
			}

			principal, err := v.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("Unauthorized", "invalid token"))
				return
			}
			if role != "" && !principal.HasRole(role) {
				log.LogSecurity("FORBIDDEN", fmt.Sprintf("%s lacks role %s for %s", principal.Subject, role, r.URL.Path))
				utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("Forbidden", "insufficient role"))
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// Helper to extract user ID in handlers
func UserID(ctx context.Context) string {
	if p := PrincipalFrom(ctx); p != nil {
		return p.Subject
	}
	return ""
}
