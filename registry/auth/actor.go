package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

// Actor is the identity every operation is checked against. It is built once
// at the transport boundary from the auth token claims and passed down
// explicitly; the core never looks identity up on its own.
type Actor struct {
	Username  string
	Groups    []string
	CLASigned bool
}

func (a Actor) MemberOf(group string) bool {
	return slices.Contains(a.Groups, group)
}

type requestContextKey string

const actorRequestContextKey requestContextKey = "actor"

const (
	usernameClaim = "username"
	groupsClaim   = "groups"
	claClaim      = "cla"
)

type JwtManager struct {
	auth *jwtauth.JWTAuth
}

func NewJwtManager(secret []byte) *JwtManager {
	return &JwtManager{auth: jwtauth.New("HS256", secret, nil)}
}

// CreateActorJwt mints a token carrying the actor identity. Used by the
// session bridge at login time and by tests.
func (m *JwtManager) CreateActorJwt(actor Actor, exp time.Duration) (string, error) {
	claims := map[string]interface{}{
		usernameClaim: actor.Username,
		groupsClaim:   actor.Groups,
		claClaim:      actor.CLASigned,
		"exp":         time.Now().Add(exp),
	}
	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}

// AuthMiddleware verifies the token, builds the Actor from its claims, and
// stores it on the request context.
func (m *JwtManager) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{
		jwtauth.Verifier(m.auth),
		jwtauth.Authenticator(m.auth),
		actorLoader,
	}
}

func actorLoader(next http.Handler) http.Handler {
	hfn := func(w http.ResponseWriter, r *http.Request) {
		_, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			http.Error(w, fmt.Sprintf("error retrieving auth claims: %v", err), http.StatusUnauthorized)
			return
		}

		actor, err := actorFromClaims(claims)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		ctx := contextWithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(hfn)
}

func actorFromClaims(claims map[string]interface{}) (Actor, error) {
	username, ok := claims[usernameClaim].(string)
	if !ok || username == "" {
		return Actor{}, fmt.Errorf("invalid token: missing %v claim", usernameClaim)
	}

	actor := Actor{Username: username}

	if cla, ok := claims[claClaim].(bool); ok {
		actor.CLASigned = cla
	}

	if groupsUncasted, ok := claims[groupsClaim].([]interface{}); ok {
		for _, g := range groupsUncasted {
			if group, ok := g.(string); ok {
				actor.Groups = append(actor.Groups, group)
			}
		}
	}

	return actor, nil
}

func contextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorRequestContextKey, actor)
}

func ActorFromContext(r *http.Request) (Actor, error) {
	actorUntyped := r.Context().Value(actorRequestContextKey)
	if actorUntyped == nil {
		return Actor{}, fmt.Errorf("actor field not found in request context")
	}
	actor, ok := actorUntyped.(Actor)
	if !ok {
		return Actor{}, fmt.Errorf("invalid value for actor field")
	}
	return actor, nil
}
