// Package netsafety implements outbound URL safety checks, per spec.md
// §4.12: resolve a hostname to a single IPv4 address, reject loopback
// and link-local destinations outright, and (for public nodes) reject
// private destinations too. Grounded on the teacher's use of
// jellydator/ttlcache/v3 for short-lived lookup caches
// (services/blockvalidation.Server's processSubtreeNotify), adapted
// here to cache resolved IPs instead of notification flags.
package netsafety

import (
	"context"
	"net"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/ledgerd/node/errors"
)

// ResolveCacheTTL is how long a resolved hostname's IP is cached, per
// spec.md §4.12.
const ResolveCacheTTL = 300 * time.Second

// Resolver performs cached, safety-checked hostname resolution.
type Resolver struct {
	cache    *ttlcache.Cache[string, net.IP]
	isPublic bool
	lookup   func(ctx context.Context, host string) ([]net.IP, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPublicNode marks this node as self-verified public (spec.md
// §4.12), tightening the safety check to additionally reject private
// destinations.
func WithPublicNode(isPublic bool) Option {
	return func(r *Resolver) { r.isPublic = isPublic }
}

// WithLookupFunc overrides DNS resolution, for tests.
func WithLookupFunc(fn func(ctx context.Context, host string) ([]net.IP, error)) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// New returns a Resolver with an empty resolution cache.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		cache: ttlcache.New[string, net.IP](
			ttlcache.WithTTL[string, net.IP](ResolveCacheTTL),
		),
	}
	r.lookup = defaultLookup
	for _, opt := range opts {
		opt(r)
	}
	go r.cache.Start()
	return r
}

// Stop halts the cache's background cleanup goroutine.
func (r *Resolver) Stop() {
	r.cache.Stop()
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	var resolver net.Resolver
	addrs, err := resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// ResolveSafe resolves host to a single IPv4 address, applying spec.md
// §4.12's safety checks, and caches the result for ResolveCacheTTL.
func (r *Resolver) ResolveSafe(ctx context.Context, host string) (net.IP, error) {
	if item := r.cache.Get(host); item != nil {
		return item.Value(), nil
	}

	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		if err := r.checkSafe(ip); err != nil {
			return nil, err
		}
		r.cache.Set(host, ip, ResolveCacheTTL)
		return ip, nil
	}

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "netsafety: dns resolution failed", err)
	}
	if len(addrs) == 0 {
		return nil, errors.New(errors.ERR_UNKNOWN, "netsafety: no A records found")
	}

	ip := addrs[0]
	if err := r.checkSafe(ip); err != nil {
		return nil, err
	}

	r.cache.Set(host, ip, ResolveCacheTTL)
	return ip, nil
}

// checkSafe applies spec.md §4.12's destination policy.
func (r *Resolver) checkSafe(ip net.IP) error {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "netsafety: loopback/link-local destination rejected")
	}

	private := isPrivate(ip)
	global := ip.IsGlobalUnicast() && !private

	if !global && !private {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "netsafety: destination is neither globally routable nor private")
	}

	if r.isPublic && private {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "netsafety: public node rejecting private destination")
	}

	return nil
}

var privateRanges = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, n, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

func isPrivate(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
