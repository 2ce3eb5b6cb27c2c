// Package didauth implements the HTTP-facing half of DID authentication:
// parsing the Authorization header and caching verification decisions.
// The actual signature check is an external collaborator (spec §1) —
// this package only defines the Verifier interface it expects and the
// header framing around it.
package didauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// Info is the identity a successful verification yields.
type Info struct {
	DID   string `json:"did"`
	KeyID string `json:"keyId"`
}

// Verifier is the external signature-verification collaborator. The
// gateway core never re-implements DID cryptography; it only consumes
// this interface.
type Verifier interface {
	Verify(ctx context.Context, did, keyID string, raw []byte) error
}

const scheme = "DIDAuthV1 u"

// NoopVerifier accepts every header that parses, performing no
// signature check at all. DID signature verification is an external
// collaborator by design (spec §1) — this exists only so the gateway
// is runnable standalone; production deployments must supply a real
// Verifier (e.g. backed by a DID resolver and a CADOP trust registry).
type NoopVerifier struct{}

func (NoopVerifier) Verify(ctx context.Context, did, keyID string, raw []byte) error {
	return nil
}

// ParseHeader splits an `Authorization: DIDAuthV1 u<base64url-json>`
// header into its DID/keyId and the raw decoded payload. It returns
// ok=false for any header that doesn't match this exact shape, without
// raising — malformed auth is just "unauthenticated", not a crash.
func ParseHeader(authHeader string) (info Info, raw []byte, ok bool) {
	if !strings.HasPrefix(authHeader, scheme) {
		return Info{}, nil, false
	}
	encoded := strings.TrimPrefix(authHeader, scheme)
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate padded base64url too.
		decoded, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return Info{}, nil, false
		}
	}
	if err := json.Unmarshal(decoded, &info); err != nil {
		return Info{}, nil, false
	}
	if info.DID == "" {
		return Info{}, nil, false
	}
	return info, decoded, true
}

// Middleware verifies the DID auth header on every request, caching
// successful decisions for a short window so repeated calls from the
// same caller don't re-run signature verification (mirrors the
// teacher's API-key decision cache).
type Middleware struct {
	verifier Verifier
	cache    *cache.Cache
}

func NewMiddleware(verifier Verifier) *Middleware {
	return &Middleware{
		verifier: verifier,
		cache:    cache.New(5*time.Minute, 10*time.Minute),
	}
}

type contextKey string

const infoContextKey contextKey = "didauth.info"

// FromContext returns the verified identity attached by Handler, if any.
func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(infoContextKey).(Info)
	return info, ok
}

// Handler verifies the Authorization header and attaches Info to the
// request context. It never writes an HTTP response itself — the
// proxy pipeline decides how to react to an unauthenticated request,
// since an unauthorized request is still access-logged (spec §7).
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, raw, ok := ParseHeader(r.Header.Get("Authorization"))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		cacheKey := info.DID + ":" + info.KeyID
		if _, found := m.cache.Get(cacheKey); !found {
			if err := m.verifier.Verify(r.Context(), info.DID, info.KeyID, raw); err != nil {
				next.ServeHTTP(w, r)
				return
			}
			m.cache.Set(cacheKey, true, cache.DefaultExpiration)
		}

		ctx := context.WithValue(r.Context(), infoContextKey, info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
