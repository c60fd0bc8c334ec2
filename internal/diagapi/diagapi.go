// Package diagapi is the internal diagnostic HTTP API: Prometheus scrape
// target, liveness check, and a small bearer-authenticated read surface over
// a borrower's current state, for on-call debugging without shelling into
// the process.
package diagapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// BorrowerLookup is the narrow surface onto health.Resolver this API needs.
type BorrowerLookup func(user common.Address) (domain.Borrower, bool)

// HotlistEntry is the JSON shape returned by GET /hotlist.
type HotlistEntry struct {
	User         string  `json:"user"`
	HealthFactor string  `json:"healthFactor,omitempty"`
	TotalDebtUsd float64 `json:"totalDebtUsd"`
	Reason       string  `json:"reason"`
}

// HotlistLookup is the narrow surface onto queue.Hotlist this API needs.
type HotlistLookup func() []HotlistEntry

// Config bounds auth and CORS behavior; Enabled false disables bearer
// verification entirely, intended only for local/dev runs.
type Config struct {
	Addr       string
	HMACSecret string
	Enabled    bool
}

// NewServer builds the diagnostic API's *http.Server, wiring chi routing,
// permissive CORS (read-only endpoints, no cookies), and JWT bearer auth on
// every route but /healthz and /metrics.
func NewServer(cfg Config, metrics *telemetry.Metrics, borrowers BorrowerLookup, hotlist HotlistLookup, log zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	auth := newAuthenticator(cfg.HMACSecret, cfg.Enabled)

	r.Group(func(r chi.Router) {
		r.Use(auth.middleware)
		r.Get("/borrowers/{address}", func(w http.ResponseWriter, r *http.Request) {
			addr := chi.URLParam(r, "address")
			if !common.IsHexAddress(addr) {
				http.Error(w, "invalid address", http.StatusBadRequest)
				return
			}
			borrower, ok := borrowers(common.HexToAddress(addr))
			if !ok {
				http.Error(w, "not tracked", http.StatusNotFound)
				return
			}
			writeJSON(w, borrowerView(borrower))
		})
		r.Get("/hotlist", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, hotlist())
		})
	})

	return &http.Server{Addr: cfg.Addr, Handler: r}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type borrowerResponse struct {
	Address              string `json:"address"`
	HealthFactor         string `json:"healthFactor,omitempty"`
	LiquidationThreshold uint32 `json:"liquidationThresholdBps"`
	Positions            int    `json:"positionCount"`
	LastUpdatedBlock     uint64 `json:"lastUpdatedBlock"`
}

func borrowerView(b domain.Borrower) borrowerResponse {
	out := borrowerResponse{
		Address: b.Address.Hex(), LiquidationThreshold: b.LiquidationThreshold,
		Positions: len(b.Positions), LastUpdatedBlock: b.LastUpdatedBlock,
	}
	if b.HealthFactor != nil {
		out.HealthFactor = b.HealthFactor.Dec()
	}
	return out
}

// authenticator verifies HS256 bearer tokens; Enabled false, the zero value,
// bypasses verification.
type authenticator struct {
	secret  []byte
	enabled bool
}

func newAuthenticator(secret string, enabled bool) *authenticator {
	return &authenticator{secret: []byte(secret), enabled: enabled}
}

func (a *authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if _, err := a.parseToken(tokenString); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("diagapi: auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(2*time.Minute))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("token invalid")
	}
	return claims, nil
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
