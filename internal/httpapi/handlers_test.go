package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"todoapp.io/internal/auth"
	"todoapp.io/internal/auth/authtest"
	"todoapp.io/internal/todo"
)

const (
	userPool        = "eu-west-1_users"
	partnerPool     = "eu-west-1_partners"
	userClient      = "user-client"
	partnerClient   = "partner-client"
	partnerSecret   = "partner-client-secret"
	adminKey        = "admin-key"
	testAPIVersion  = "test"
	successEnvelope = "success"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testEnv struct {
	t       *testing.T
	srv     *httptest.Server
	idp     *authtest.FakeIdentityProvider
	store   *todo.InMemory
	user    *authtest.Signer
	partner *authtest.Signer
	issBase string
}

func newTestEnv(t *testing.T, mutate ...func(*Services)) *testEnv {
	t.Helper()
	return newTestEnvWithOptions(t, nil, mutate...)
}

func newTestEnvWithOptions(t *testing.T, opts []Option, mutate ...func(*Services)) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		idp:     authtest.NewFakeIdentityProvider(),
		store:   todo.NewInMemory(),
		user:    authtest.NewSigner(t, "user-kid"),
		partner: authtest.NewSigner(t, "partner-kid"),
	}

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + userPool + "/.well-known/jwks.json":
			authtest.JWKSHandler(env.user).ServeHTTP(w, r)
		case "/" + partnerPool + "/.well-known/jwks.json":
			authtest.JWKSHandler(env.partner).ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(jwks.Close)
	env.issBase = jwks.URL

	userTokens := env.verifier(auth.RealmUser, userPool, userClient)
	partnerTokens := env.verifier(auth.RealmPartner, partnerPool, partnerClient)
	issuer, err := auth.NewIssuer(env.idp, auth.IssuerConfig{
		UserClientID:        userClient,
		PartnerClientID:     partnerClient,
		PartnerClientSecret: partnerSecret,
	})
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	provisioner, err := auth.NewProvisioner(env.idp, auth.ProvisionerConfig{
		PoolID:   partnerPool,
		AdminKey: adminKey,
	})
	if err != nil {
		t.Fatalf("NewProvisioner: %v", err)
	}

	svc := Services{
		UserTokens:    userTokens,
		PartnerTokens: partnerTokens,
		Issuer:        issuer,
		Provisioner:   provisioner,
		Todos:         env.store,
	}
	for _, m := range mutate {
		m(&svc)
	}
	api := New(ReadyProbe{Store: env.store}, testAPIVersion, svc, append([]Option{WithRateLimit(1000, 1000)}, opts...)...)
	env.srv = httptest.NewServer(api.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) verifier(realm auth.Realm, pool, client string) *auth.Verifier {
	e.t.Helper()
	iss := auth.IssuerURL(e.issBase, pool)
	v, err := auth.NewVerifier(auth.VerifierConfig{Realm: realm, Issuer: iss, ClientID: client}, auth.NewKeySet(auth.JWKSURL(iss)))
	if err != nil {
		e.t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func (e *testEnv) userToken(sub string) string {
	return e.user.Mint(e.t, authtest.AccessClaims(auth.IssuerURL(e.issBase, userPool), userClient, sub, time.Hour))
}

func (e *testEnv) partnerToken(sub string) string {
	return e.partner.Mint(e.t, authtest.AccessClaims(auth.IssuerURL(e.issBase, partnerPool), partnerClient, sub, time.Hour))
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) (*http.Response, envelope) {
	e.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		e.t.Fatalf("decode response: %v", err)
	}
	return resp, env
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(env.Data, &out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	return out
}

func expectError(t *testing.T, resp *http.Response, env envelope, code int, msg string) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("expected %d, got %d (%q)", code, resp.StatusCode, env.Message)
	}
	if env.Status != "error" {
		t.Fatalf("expected error envelope, got %q", env.Status)
	}
	if msg != "" && env.Message != msg {
		t.Fatalf("expected message %q, got %q", msg, env.Message)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/api/info"} {
		resp, err := env.srv.Client().Get(env.srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatalf("GET %s: missing request id", path)
		}
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodGet, "/api/nothing", nil, nil)
	expectError(t, resp, body, http.StatusNotFound, "Not found")
}

func TestProtectedRouteWithoutCredential(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodGet, "/api/todos", nil, nil)
	expectError(t, resp, body, http.StatusUnauthorized, "No credential provided")
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}

	resp, body = env.do(http.MethodGet, "/api/todos", nil, map[string]string{"Authorization": "Basic Zm9vOmJhcg=="})
	expectError(t, resp, body, http.StatusUnauthorized, "No credential provided")
}

func TestProtectedRouteWithInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(http.MethodGet, "/api/todos", nil, bearerHeader("not-a-jwt"))
	expectError(t, resp, body, http.StatusUnauthorized, "Invalid token")
}

func TestRealmsDoNotCross(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(http.MethodGet, "/api/todos", nil, bearerHeader(env.partnerToken("partner-1")))
	expectError(t, resp, body, http.StatusUnauthorized, "Invalid token")

	resp, body = env.do(http.MethodPost, "/api/partner/todos",
		map[string]string{"userId": "user-1", "title": "x"}, bearerHeader(env.userToken("user-1")))
	expectError(t, resp, body, http.StatusUnauthorized, "Invalid token")
}

func TestUnconfiguredRealmFailsClosed(t *testing.T) {
	env := newTestEnv(t, func(s *Services) { s.UserTokens = nil })
	resp, body := env.do(http.MethodGet, "/api/todos", nil, bearerHeader(env.userToken("user-1")))
	expectError(t, resp, body, http.StatusInternalServerError, "Server misconfigured")
}

func TestTodoLifecycleIsScopedToSubject(t *testing.T) {
	env := newTestEnv(t)
	alice := bearerHeader(env.userToken("alice"))
	bob := bearerHeader(env.userToken("bob"))

	resp, body := env.do(http.MethodPost, "/api/todos", map[string]string{"title": "  Buy milk ", "dueDate": "2026-11-01"}, alice)
	if resp.StatusCode != http.StatusCreated || body.Status != successEnvelope {
		t.Fatalf("create: %d %q", resp.StatusCode, body.Message)
	}
	created := decodeData[todo.Todo](t, body)
	if created.Title != "Buy milk" || created.UserID != "alice" || created.Status != todo.StatusPending || created.CreatedBy != todo.CreatedByUser {
		t.Fatalf("unexpected todo: %+v", created)
	}

	resp, body = env.do(http.MethodGet, "/api/todos", nil, bob)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list as bob: %d", resp.StatusCode)
	}
	if items := decodeData[[]todo.Todo](t, body); len(items) != 0 {
		t.Fatalf("bob should see nothing, got %d", len(items))
	}

	resp, body = env.do(http.MethodPut, "/api/todos/"+created.TodoID, map[string]string{"status": "COMPLETED"}, bob)
	expectError(t, resp, body, http.StatusNotFound, "Todo not found")

	resp, body = env.do(http.MethodPut, "/api/todos/"+created.TodoID, map[string]string{"status": "COMPLETED"}, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %q", resp.StatusCode, body.Message)
	}
	if updated := decodeData[todo.Todo](t, body); updated.Status != todo.StatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	resp, body = env.do(http.MethodPut, "/api/todos/"+created.TodoID, map[string]string{}, alice)
	expectError(t, resp, body, http.StatusBadRequest, "")

	resp, body = env.do(http.MethodDelete, "/api/todos/"+created.TodoID, nil, bob)
	expectError(t, resp, body, http.StatusNotFound, "Todo not found")

	resp, body = env.do(http.MethodDelete, "/api/todos/"+created.TodoID, nil, alice)
	if resp.StatusCode != http.StatusOK || body.Message != "Todo deleted successfully" {
		t.Fatalf("delete: %d %q", resp.StatusCode, body.Message)
	}

	resp, body = env.do(http.MethodGet, "/api/todos", nil, alice)
	if items := decodeData[[]todo.Todo](t, body); resp.StatusCode != http.StatusOK || len(items) != 0 {
		t.Fatalf("expected empty list after delete, got %d items", len(items))
	}
}

func TestTodoTimestampsFollowClock(t *testing.T) {
	created := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)
	var clock atomic.Pointer[time.Time]
	clock.Store(&created)
	env := newTestEnvWithOptions(t, []Option{WithClock(func() time.Time { return *clock.Load() })})
	alice := bearerHeader(env.userToken("alice"))

	resp, body := env.do(http.MethodPost, "/api/todos", map[string]string{"title": "File taxes"}, alice)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %q", resp.StatusCode, body.Message)
	}
	item := decodeData[todo.Todo](t, body)
	if !item.CreatedAt.Equal(created) || !item.UpdatedAt.Equal(created) {
		t.Fatalf("expected both timestamps at %s, got %s / %s", created, item.CreatedAt, item.UpdatedAt)
	}

	later := created.Add(90 * time.Minute)
	clock.Store(&later)
	resp, body = env.do(http.MethodPut, "/api/todos/"+item.TodoID, map[string]string{"status": "COMPLETED"}, alice)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %q", resp.StatusCode, body.Message)
	}
	updated := decodeData[todo.Todo](t, body)
	if !updated.CreatedAt.Equal(created) {
		t.Fatalf("createdAt moved to %s", updated.CreatedAt)
	}
	if !updated.UpdatedAt.Equal(later) {
		t.Fatalf("expected updatedAt %s, got %s", later, updated.UpdatedAt)
	}
}

func TestMalformedTodoIDIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	alice := bearerHeader(env.userToken("alice"))

	for _, id := range []string{"not-an-id", "01HZX3F8Q9", "ZZZZZZZZZZZZZZZZZZZZZZZZZZ"} {
		resp, body := env.do(http.MethodPut, "/api/todos/"+id, map[string]string{"status": "COMPLETED"}, alice)
		expectError(t, resp, body, http.StatusNotFound, "Todo not found")

		resp, body = env.do(http.MethodDelete, "/api/todos/"+id, nil, alice)
		expectError(t, resp, body, http.StatusNotFound, "Todo not found")
	}
}

func TestCreateTodoValidation(t *testing.T) {
	env := newTestEnv(t)
	alice := bearerHeader(env.userToken("alice"))

	resp, body := env.do(http.MethodPost, "/api/todos", map[string]string{"title": "   "}, alice)
	expectError(t, resp, body, http.StatusBadRequest, "")

	resp, body = env.do(http.MethodPost, "/api/todos", map[string]string{"title": strings.Repeat("x", 201)}, alice)
	expectError(t, resp, body, http.StatusBadRequest, "")

	resp, body = env.do(http.MethodPost, "/api/todos", map[string]string{"title": "ok", "dueDate": "tomorrow"}, alice)
	expectError(t, resp, body, http.StatusBadRequest, "")
}

func TestPartnerCreatesTodoForUser(t *testing.T) {
	env := newTestEnv(t)
	partner := bearerHeader(env.partnerToken("partner-1"))

	resp, body := env.do(http.MethodPost, "/api/partner/todos", map[string]string{"title": "no user"}, partner)
	expectError(t, resp, body, http.StatusBadRequest, "Missing required fields")

	resp, body = env.do(http.MethodPost, "/api/partner/todos", map[string]string{"userId": "alice", "title": "Call back"}, partner)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("partner create: %d %q", resp.StatusCode, body.Message)
	}
	created := decodeData[todo.Todo](t, body)
	if created.UserID != "alice" || created.CreatedBy != todo.CreatedByPartner || created.Status != todo.StatusPending {
		t.Fatalf("unexpected partner todo: %+v", created)
	}

	_, body = env.do(http.MethodGet, "/api/todos", nil, bearerHeader(env.userToken("alice")))
	if items := decodeData[[]todo.Todo](t, body); len(items) != 1 || items[0].TodoID != created.TodoID {
		t.Fatalf("alice should see the partner todo, got %+v", items)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.idp.Passwords["alice@example.com"] = "hunter2"

	resp, body := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@example.com"}, nil)
	expectError(t, resp, body, http.StatusBadRequest, "email and password are required")

	resp, body = env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@example.com", "password": "wrong"}, nil)
	expectError(t, resp, body, http.StatusUnauthorized, "Authentication failed")

	resp, body = env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@example.com", "password": "hunter2"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d %q", resp.StatusCode, body.Message)
	}
	pair := decodeData[auth.TokenPair](t, body)
	if pair.AccessToken != "access-alice@example.com" || pair.RefreshToken == "" || pair.ExpiresIn != 3600 {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if calls := env.idp.Calls(); calls[len(calls)-1].ClientID != userClient {
		t.Fatalf("login must use the user client, got %q", calls[len(calls)-1].ClientID)
	}
}

func TestLoginUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.idp.AuthErr = &auth.Error{Kind: auth.ErrUpstream, Message: "Authentication service unavailable", Err: errors.New("dial tcp: timeout")}

	resp, body := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "a@example.com", "password": "p"}, nil)
	expectError(t, resp, body, http.StatusBadGateway, "Authentication service unavailable")
	if strings.Contains(body.Message, "dial") {
		t.Fatal("upstream cause leaked to the client")
	}
}

func TestPartnerRegisterRequiresAdminKey(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(http.MethodPost, "/api/partner/register", map[string]string{"partnerId": "acme", "email": "ops@acme.test"}, nil)
	expectError(t, resp, body, http.StatusUnauthorized, "Unauthorized")

	resp, body = env.do(http.MethodPost, "/api/partner/register", map[string]string{"partnerId": "acme", "email": "ops@acme.test"},
		map[string]string{"x-api-key": "nope"})
	expectError(t, resp, body, http.StatusUnauthorized, "Unauthorized")

	// Malformed body behind a bad key still answers 401.
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/partner/register", strings.NewReader("{"))
	raw, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before body parsing, got %d", raw.StatusCode)
	}

	if n := env.idp.CallCount(""); n != 0 {
		t.Fatalf("expected no identity provider calls, got %d", n)
	}
}

func TestPartnerRegisterAndExchange(t *testing.T) {
	env := newTestEnv(t)
	admin := map[string]string{"x-api-key": adminKey}

	resp, body := env.do(http.MethodPost, "/api/partner/register", map[string]string{"partnerId": "acme"}, admin)
	expectError(t, resp, body, http.StatusBadRequest, "partnerId and email are required")

	resp, body = env.do(http.MethodPost, "/api/partner/register", map[string]string{"partnerId": "acme", "email": "ops@acme.test"}, admin)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: %d %q", resp.StatusCode, body.Message)
	}
	identity := decodeData[auth.PartnerIdentity](t, body)
	if identity.PartnerID != auth.DeriveUsername("acme") {
		t.Fatalf("unexpected partner id %q", identity.PartnerID)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(identity.PartnerSecret) {
		t.Fatalf("unexpected secret shape %q", identity.PartnerSecret)
	}

	resp, body = env.do(http.MethodPost, "/api/partner/auth/token", map[string]string{"partnerId": identity.PartnerID, "partnerSecret": "wrong"}, nil)
	expectError(t, resp, body, http.StatusUnauthorized, "Authentication failed")

	resp, body = env.do(http.MethodPost, "/api/partner/auth/token", map[string]string{"partnerId": identity.PartnerID}, nil)
	expectError(t, resp, body, http.StatusBadRequest, "Missing partner credentials")

	resp, body = env.do(http.MethodPost, "/api/partner/auth/token",
		map[string]string{"partnerId": identity.PartnerID, "partnerSecret": identity.PartnerSecret}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("partner token: %d %q", resp.StatusCode, body.Message)
	}
	pair := decodeData[auth.TokenPair](t, body)
	if pair.AccessToken != "access-"+identity.PartnerID {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	calls := env.idp.Calls()
	last := calls[len(calls)-1]
	if last.ClientID != partnerClient || last.SecretHash != auth.SecretHash(identity.PartnerID, partnerClient, partnerSecret) {
		t.Fatalf("partner exchange must carry the secret hash: %+v", last)
	}
}

func TestPartnerRefreshTakesPrecedence(t *testing.T) {
	env := newTestEnv(t)
	env.idp.RefreshTokens["rt-1"] = &auth.TokenResult{AccessToken: "refreshed", ExpiresIn: 3600}

	resp, body := env.do(http.MethodPost, "/api/partner/auth/token",
		map[string]string{"partnerId": "p-1", "partnerSecret": "ignored", "refreshToken": "rt-1"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: %d %q", resp.StatusCode, body.Message)
	}
	pair := decodeData[auth.TokenPair](t, body)
	if pair.AccessToken != "refreshed" || pair.RefreshToken != "rt-1" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if env.idp.CallCount("AuthenticateWithSecretHash") != 0 || env.idp.CallCount("RefreshToken") != 1 {
		t.Fatalf("expected only the refresh flow, calls: %+v", env.idp.Calls())
	}

	resp, body = env.do(http.MethodPost, "/api/partner/auth/token",
		map[string]string{"partnerId": "p-1", "refreshToken": "revoked"}, nil)
	expectError(t, resp, body, http.StatusUnauthorized, "Token refresh failed")
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/auth/login", strings.NewReader("{not json"))
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
