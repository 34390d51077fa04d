package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/peeridentity"
)

// Header names, per spec.md §4.9, renamed from the original's
// x-denaro-* family to this project's own prefix (see DESIGN.md).
const (
	HeaderNodeID    = "x-ledger-node-id"
	HeaderPublicKey = "x-ledger-public-key"
	HeaderSignature = "x-ledger-signature"
	HeaderTimestamp = "x-ledger-timestamp"
	HeaderNonce     = "x-ledger-nonce"
	DomainHeaderPfx = "x-ledger-"
)

// reservedHeaders are the auth envelope headers themselves, excluded
// from the domain-header set CanonicalPayload binds in.
var reservedHeaders = map[string]bool{
	HeaderNodeID:    true,
	HeaderPublicKey: true,
	HeaderSignature: true,
	HeaderTimestamp: true,
	HeaderNonce:     true,
}

// nonceCacheSize and nonceCacheTTL match spec.md §4.9's replay-defense
// cache ("TTL cache sized 10 000 / 300s").
const (
	nonceCacheSize = 10_000
	nonceCacheTTL  = 300 * time.Second
)

// AuthContext is the verified identity of a signed request's caller,
// attached to the request context for handlers to consult (e.g. to
// attribute a reputation violation to the right node_id).
type AuthContext struct {
	NodeID string
}

type authCtxKey struct{}

// AuthFromContext returns the verified caller, if any.
func AuthFromContext(ctx context.Context) (*AuthContext, bool) {
	v, ok := ctx.Value(authCtxKey{}).(*AuthContext)
	return v, ok
}

// Authenticator verifies signed requests per spec.md §4.9: canonical
// JSON signature check, replay-window and single-use nonce defense.
type Authenticator struct {
	nonces *ttlcache.Cache[string, struct{}]
	now    func() int64
}

// NewAuthenticator returns an Authenticator with an empty nonce cache.
func NewAuthenticator() *Authenticator {
	a := &Authenticator{
		nonces: ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](nonceCacheTTL),
			ttlcache.WithCapacity[string, struct{}](nonceCacheSize),
		),
		now: func() int64 { return time.Now().Unix() },
	}
	go a.nonces.Start()
	return a
}

// Stop halts the nonce cache's background cleanup goroutine.
func (a *Authenticator) Stop() { a.nonces.Stop() }

// RequireSigned wraps next with spec.md §4.9's authentication check,
// rejecting with 403 and "no authenticated sender" on any failure.
func (a *Authenticator) RequireSigned(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, err := a.verify(r)
		if err != nil {
			writeError(w, http.StatusForbidden, "no authenticated sender")
			return
		}
		next(w, r.WithContext(ctx))
	}
}

func (a *Authenticator) verify(r *http.Request) (context.Context, error) {
	nodeID := r.Header.Get(HeaderNodeID)
	pubKeyHex := r.Header.Get(HeaderPublicKey)
	sigHex := r.Header.Get(HeaderSignature)
	timestampStr := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)

	if nodeID == "" || pubKeyHex == "" || sigHex == "" || timestampStr == "" || nonce == "" {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "missing auth headers")
	}
	if nodeID != pubKeyHex {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "node_id does not match public key")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "malformed timestamp", err)
	}
	if !peeridentity.WithinReplayWindow(timestamp, a.now()) {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "timestamp outside replay window")
	}

	cacheKey := nodeID + ":" + nonce
	if a.nonces.Get(cacheKey) != nil {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "nonce already seen")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "unreadable body", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	domainHeaders := map[string]string{}
	for k := range r.Header {
		lower := httpHeaderLower(k)
		if !reservedHeaders[lower] && len(lower) > len(DomainHeaderPfx) && lower[:len(DomainHeaderPfx)] == DomainHeaderPfx {
			domainHeaders[lower[len(DomainHeaderPfx):]] = r.Header.Get(k)
		}
	}

	payload, err := peeridentity.CanonicalPayload(string(body), timestamp, nonce, domainHeaders)
	if err != nil {
		return nil, err
	}

	pubKey, err := peeridentity.PublicKeyFromHex(pubKeyHex)
	if err != nil {
		return nil, err
	}

	ok, err := peeridentity.Verify(pubKey, payload, sigHex)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ERR_AUTH_FAILED, "signature verification failed")
	}

	a.nonces.Set(cacheKey, struct{}{}, nonceCacheTTL)

	return context.WithValue(r.Context(), authCtxKey{}, &AuthContext{NodeID: nodeID}), nil
}

func httpHeaderLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// CostBudget enforces spec.md §5's per-identifier query-cost budget:
// cost = offset/100 + limit/50, hourly cap 1000. Backed by
// golang.org/x/time/rate, treating the hourly cap as a token bucket
// refilling continuously rather than resetting on the hour, which is
// the closer reading of "rejects with 429 when exceeded" for a
// long-running process.
type CostBudget struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewCostBudget returns an empty CostBudget.
func NewCostBudget() *CostBudget {
	return &CostBudget{limiters: make(map[string]*rate.Limiter)}
}

// Cost computes spec.md §5's cost formula for a paginated query.
func Cost(offset, limit int) int {
	return offset/100 + limit/50
}

// Allow reports whether identifier may spend cost now, consuming budget
// if so.
func (b *CostBudget) Allow(identifier string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	b.mu.Lock()
	limiter, ok := b.limiters[identifier]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(1000.0/3600.0), 1000)
		b.limiters[identifier] = limiter
	}
	b.mu.Unlock()
	return limiter.AllowN(time.Now(), cost)
}
