package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/kinoteka/kinoteka/internal/authz"
	"github.com/kinoteka/kinoteka/internal/platform/httpx"
	"github.com/kinoteka/kinoteka/internal/shared"
	_ "github.com/kinoteka/kinoteka/testing"
)

type stubRepo struct {
	accounts map[string]Account
	actors   map[int64]shared.Actor
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (Account, error) {
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (s *stubRepo) LoadActor(_ context.Context, id int64) (shared.Actor, error) {
	a, ok := s.actors[id]
	if !ok {
		return shared.Actor{}, shared.ErrNotFound
	}
	return a, nil
}

func newStubRepo(t *testing.T) *stubRepo {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &stubRepo{
		accounts: map[string]Account{
			"admin@kinoteka.test":  {ID: 1, Email: "admin@kinoteka.test", PasswordHash: string(hash), Status: "active"},
			"banned@kinoteka.test": {ID: 2, Email: "banned@kinoteka.test", PasswordHash: string(hash), Status: "banned"},
		},
		actors: map[int64]shared.Actor{
			1: {Principal: authz.Principal{ID: 1, Active: true, Role: &authz.Role{ID: 2, Name: "admin", Hierarchy: 80}}, Email: "admin@kinoteka.test"},
			2: {Principal: authz.Principal{ID: 2, Active: false}, Email: "banned@kinoteka.test"},
		},
	}
}

func newRouter(repo Repository, tokens *Tokens) http.Handler {
	h := NewHandler(nil, NewService(repo, tokens))
	r := chi.NewRouter()
	r.Route("/auth", h.MountRoutes)
	r.With(h.Authenticate).Get("/me", func(w http.ResponseWriter, r *http.Request) {
		actor, _ := shared.ActorFromContext(r.Context())
		httpx.OK(w, http.StatusOK, "", map[string]any{"id": actor.ID, "hierarchy": actor.Hierarchy()})
	})
	return r
}

func requestToken(router http.Handler, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rr, req)
	return rr
}

func getMe(router http.Handler, header string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	router.ServeHTTP(rr, req)
	return rr
}

func TestTokenRoundTrip(t *testing.T) {
	router := newRouter(newStubRepo(t), NewTokens("secret", time.Hour))

	rr := requestToken(router, `{"email":"admin@kinoteka.test","password":"correct-horse"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var env struct {
		Data Token `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.TokenType != "Bearer" || env.Data.AccessToken == "" {
		t.Fatalf("unexpected token %+v", env.Data)
	}

	me := getMe(router, "Bearer "+env.Data.AccessToken)
	if me.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", me.Code)
	}
	if !strings.Contains(me.Body.String(), `"hierarchy":80`) {
		t.Fatalf("expected actor hierarchy in body, got %s", me.Body.String())
	}
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	router := newRouter(newStubRepo(t), NewTokens("secret", time.Hour))

	cases := []struct {
		name string
		body string
		code int
	}{
		{"wrong password", `{"email":"admin@kinoteka.test","password":"wrong-horse"}`, http.StatusUnauthorized},
		{"unknown email", `{"email":"ghost@kinoteka.test","password":"correct-horse"}`, http.StatusUnauthorized},
		{"inactive account", `{"email":"banned@kinoteka.test","password":"correct-horse"}`, http.StatusForbidden},
		{"invalid payload", `{"email":"not-an-email","password":"x"}`, http.StatusUnprocessableEntity},
		{"malformed json", `{"email":`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := requestToken(router, tc.body)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAuthenticateRejectsMissingOrForgedTokens(t *testing.T) {
	repo := newStubRepo(t)
	router := newRouter(repo, NewTokens("secret", time.Hour))

	if rr := getMe(router, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: expected 401, got %d", rr.Code)
	}
	if rr := getMe(router, "Basic abc"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong scheme: expected 401, got %d", rr.Code)
	}

	forged, err := NewTokens("other-secret", time.Hour).Issue(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rr := getMe(router, "Bearer "+forged.AccessToken); rr.Code != http.StatusUnauthorized {
		t.Fatalf("forged token: expected 401, got %d", rr.Code)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "1", Issuer: issuer})
	raw, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if rr := getMe(router, "Bearer "+raw); rr.Code != http.StatusUnauthorized {
		t.Fatalf("alg none: expected 401, got %d", rr.Code)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	tokens := NewTokens("secret", time.Minute)
	issuedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return issuedAt }
	tok, err := tokens.Issue(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.Verify(tok.AccessToken); err != nil {
		t.Fatalf("expected fresh token to verify: %v", err)
	}

	tokens.now = func() time.Time { return issuedAt.Add(2 * time.Minute) }
	if _, err := tokens.Verify(tok.AccessToken); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestActorReloadedOnEveryRequest(t *testing.T) {
	repo := newStubRepo(t)
	tokens := NewTokens("secret", time.Hour)
	router := newRouter(repo, tokens)

	tok, err := tokens.Issue(1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	repo.actors[1] = shared.Actor{Principal: authz.Principal{ID: 1, Active: true, Role: &authz.Role{ID: 3, Name: "moderator", Hierarchy: 60}}}
	me := getMe(router, "Bearer "+tok.AccessToken)
	if !strings.Contains(me.Body.String(), `"hierarchy":60`) {
		t.Fatalf("expected demoted hierarchy, got %s", me.Body.String())
	}

	repo.actors[1] = shared.Actor{Principal: authz.Principal{ID: 1, Active: false}}
	if rr := getMe(router, "Bearer "+tok.AccessToken); rr.Code != http.StatusUnauthorized {
		t.Fatalf("suspended actor: expected 401, got %d", rr.Code)
	}

	delete(repo.actors, 1)
	if rr := getMe(router, "Bearer "+tok.AccessToken); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing actor: expected 401, got %d", rr.Code)
	}
}
