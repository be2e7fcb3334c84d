package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deusexmachina/authcore/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validatorFunc func(ctx context.Context, token string) (*jwt.AccessClaims, error)

func (f validatorFunc) ValidateAccessToken(ctx context.Context, token string) (*jwt.AccessClaims, error) {
	return f(ctx, token)
}

type checkerFunc func(ctx context.Context, userID, resourceID, action string) (bool, error)

func (f checkerFunc) CheckPermission(ctx context.Context, userID, resourceID, action string) (bool, error) {
	return f(ctx, userID, resourceID, action)
}

var acceptGood = validatorFunc(func(_ context.Context, token string) (*jwt.AccessClaims, error) {
	if token != "good" {
		return nil, errors.New("invalid token")
	}
	return &jwt.AccessClaims{UserID: "u1", Email: "ada@example.com"}, nil
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/worlds/w1", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuthStoresClaims(t *testing.T) {
	var seen *jwt.AccessClaims
	h := RequireAuth(acceptGood)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		seen = claims
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := serve(h, "Bearer good")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.UserID)
}

func TestRequireAuthRejects(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	for name, header := range map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic Zm9vOmJhcg==",
		"empty token":    "Bearer ",
		"invalid token":  "Bearer forged",
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(RequireAuth(acceptGood)(next), header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		})
	}

	rec := serve(RequireAuth(nil)(next), "Bearer good")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = BearerToken("Bearer")
	assert.False(t, ok)
}

func TestRequireAction(t *testing.T) {
	resource := func(*http.Request) string { return "w1" }
	var calls []string
	checker := checkerFunc(func(_ context.Context, userID, resourceID, action string) (bool, error) {
		calls = append(calls, userID+"/"+resourceID+"/"+action)
		switch action {
		case "edit":
			return true, nil
		case "delete":
			return false, nil
		}
		return false, errors.New("store down")
	})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	chain := func(action string) http.Handler {
		return RequireAuth(acceptGood)(RequireAction(checker, action, resource)(ok))
	}

	assert.Equal(t, http.StatusOK, serve(chain("edit"), "Bearer good").Code)
	assert.Equal(t, http.StatusForbidden, serve(chain("delete"), "Bearer good").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(chain("share"), "Bearer good").Code)
	assert.Equal(t, []string{"u1/w1/edit", "u1/w1/delete", "u1/w1/share"}, calls)

	rec := serve(RequireAction(checker, "edit", resource)(ok), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "claims are required")
}
