package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// TokenVerifications counts bearer token checks per realm and outcome.
	TokenVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_verifications_total",
			Help: "Bearer token verifications by realm and outcome.",
		},
		[]string{"realm", "outcome"},
	)

	// CredentialExchanges counts token requests against the identity provider.
	CredentialExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_credential_exchanges_total",
			Help: "Credential exchanges by flow and outcome.",
		},
		[]string{"flow", "outcome"},
	)

	// PartnerRegistrations counts partner provisioning attempts.
	PartnerRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_partner_registrations_total",
			Help: "Partner provisioning attempts by outcome.",
		},
		[]string{"outcome"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestsTotal,
			httpRequestDuration,
			TokenVerifications,
			CredentialExchanges,
			PartnerRegistrations,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// OtherPath labels every request whose path matches no registered route.
const OtherPath = "other"

// Routes maps request paths onto the route templates that serve them. Wildcard
// segments such as {todoId} match any single segment and are labelled :todoId.
type Routes struct {
	templates [][]string
	labels    []string
}

func NewRoutes(templates ...string) *Routes {
	rt := &Routes{}
	seen := make(map[string]struct{}, len(templates))
	for _, tpl := range templates {
		tpl = strings.TrimSpace(tpl)
		if tpl == "" {
			continue
		}
		if _, ok := seen[tpl]; ok {
			continue
		}
		seen[tpl] = struct{}{}
		segs := splitPath(tpl)
		label := make([]string, len(segs))
		for i, seg := range segs {
			if isWildcard(seg) {
				label[i] = ":" + strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			} else {
				label[i] = seg
			}
		}
		rt.templates = append(rt.templates, segs)
		rt.labels = append(rt.labels, "/"+strings.Join(label, "/"))
	}
	return rt
}

// Label returns the route label for raw, or OtherPath.
func (rt *Routes) Label(raw string) string {
	if rt == nil {
		return OtherPath
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	segs := splitPath(raw)
	for i, tpl := range rt.templates {
		if matchSegments(tpl, segs) {
			return rt.labels[i]
		}
	}
	return OtherPath
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isWildcard(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}

func matchSegments(tpl, segs []string) bool {
	if len(tpl) != len(segs) {
		return false
	}
	for i, seg := range tpl {
		if isWildcard(seg) {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if seg != segs[i] {
			return false
		}
	}
	return true
}

// Instrument records in-flight, count and latency per route label. Paths outside
// routes share the OtherPath label.
func Instrument(next http.Handler, routes *Routes) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := routes.Label(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
