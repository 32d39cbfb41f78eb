package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"todoapp.io/internal/auth"
	"todoapp.io/internal/obs"
	"todoapp.io/internal/todo"
)

// Pinger is anything whose reachability gates readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (auth.Principal, error)
}

// CredentialIssuer exchanges credentials for tokens.
type CredentialIssuer interface {
	Login(ctx context.Context, email, password string) (auth.TokenPair, error)
	PartnerToken(ctx context.Context, req auth.PartnerTokenRequest) (auth.TokenPair, error)
}

// PartnerProvisioner creates partner accounts behind the admin key.
type PartnerProvisioner interface {
	Authorize(adminKey string) error
	Register(ctx context.Context, adminKey, partnerID, email string) (auth.PartnerIdentity, error)
}

// Services are the collaborators the HTTP layer dispatches to.
type Services struct {
	UserTokens    TokenVerifier
	PartnerTokens TokenVerifier
	Issuer        CredentialIssuer
	Provisioner   PartnerProvisioner
	Todos         todo.Store
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        Services

	limiter         *RateLimiter
	ratePerSec      float64
	rateBurst       int
	upstreamTimeout time.Duration
	maxBodyBytes    int64
	allowedOrigins  []string
	trustedProxies  []netip.Prefix
	routes          []string
	now             func() time.Time
}

// Option customises the API.
type Option func(*API)

// WithRateLimit sets the per-client token bucket on credential endpoints.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		a.ratePerSec = perSecond
		a.rateBurst = burst
	}
}

// WithUpstreamTimeout bounds each call to the identity provider.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(a *API) { a.upstreamTimeout = d }
}

// WithAllowedOrigins adds browser origins to the CORS allow list.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.allowedOrigins = append(a.allowedOrigins, origins...) }
}

// WithTrustedProxies lets peers in these ranges speak for the client through
// X-Forwarded-For.
func WithTrustedProxies(prefixes ...netip.Prefix) Option {
	return func(a *API) { a.trustedProxies = append(a.trustedProxies, prefixes...) }
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *API) { a.now = now }
}

func New(rp ReadyProbe, version string, svc Services, opts ...Option) *API {
	a := &API{
		mux:             http.NewServeMux(),
		readyProbe:      rp,
		version:         version,
		svc:             svc,
		ratePerSec:      5,
		rateBurst:       10,
		upstreamTimeout: 10 * time.Second,
		maxBodyBytes:    1 << 20,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.limiter = NewRateLimiter(a.ratePerSec, a.rateBurst)
	a.limiter.trusted = a.trustedProxies
	limited := func(h http.HandlerFunc) http.Handler { return a.limiter.Middleware(h) }
	user := func(h http.HandlerFunc) http.Handler { return a.requireToken(a.svc.UserTokens, h) }
	partner := func(h http.HandlerFunc) http.Handler { return a.requireToken(a.svc.PartnerTokens, h) }

	a.handle("GET /healthz", http.HandlerFunc(a.Healthz))
	a.handle("GET /readyz", http.HandlerFunc(a.Ready))
	a.handle("GET /api/info", http.HandlerFunc(a.Info))
	a.handle("GET /metrics", obs.Handler())

	a.handle("POST /api/auth/login", limited(a.handleLogin))
	a.handle("POST /api/partner/auth/token", limited(a.handlePartnerToken))
	a.handle("POST /api/partner/register", limited(a.handlePartnerRegister))
	a.handle("POST /api/partner/todos", partner(a.handlePartnerCreateTodo))

	a.handle("GET /api/todos", user(a.handleListTodos))
	a.handle("POST /api/todos", user(a.handleCreateTodo))
	a.handle("PUT /api/todos/{todoId}", user(a.handleUpdateTodo))
	a.handle("DELETE /api/todos/{todoId}", user(a.handleDeleteTodo))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "Not found")
	})

	return a
}

// handle registers a route and remembers its path template for metric labels.
func (a *API) handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
	path := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		path = pattern[i+1:]
	}
	a.routes = append(a.routes, path)
}

// Handler wraps the routes in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBodyBytes)
	h = CORS(h, a.allowedOrigins...)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h, obs.NewRoutes(a.routes...))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "todo-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		logFailure(r, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "todo-api",
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) upstreamContext(r *http.Request) (context.Context, context.CancelFunc) {
	if a.upstreamTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), a.upstreamTimeout)
}
