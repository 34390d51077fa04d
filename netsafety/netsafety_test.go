package netsafety

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSafe_AcceptsPublicIP(t *testing.T) {
	r := New()
	defer r.Stop()

	ip, err := r.ResolveSafe(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", ip.String())
}

func TestResolveSafe_RejectsLoopback(t *testing.T) {
	r := New()
	defer r.Stop()

	_, err := r.ResolveSafe(context.Background(), "127.0.0.1")
	assert.Error(t, err)
}

func TestResolveSafe_RejectsLinkLocal(t *testing.T) {
	r := New()
	defer r.Stop()

	_, err := r.ResolveSafe(context.Background(), "169.254.1.1")
	assert.Error(t, err)
}

func TestResolveSafe_AcceptsPrivateForNonPublicNode(t *testing.T) {
	r := New(WithPublicNode(false))
	defer r.Stop()

	ip, err := r.ResolveSafe(context.Background(), "192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", ip.String())
}

func TestResolveSafe_RejectsPrivateForPublicNode(t *testing.T) {
	r := New(WithPublicNode(true))
	defer r.Stop()

	_, err := r.ResolveSafe(context.Background(), "10.0.0.5")
	assert.Error(t, err)
}

func TestResolveSafe_UsesLookupFuncAndCaches(t *testing.T) {
	calls := 0
	r := New(WithLookupFunc(func(_ context.Context, host string) ([]net.IP, error) {
		calls++
		return []net.IP{net.ParseIP("8.8.8.8")}, nil
	}))
	defer r.Stop()

	ip1, err := r.ResolveSafe(context.Background(), "example.test")
	require.NoError(t, err)
	ip2, err := r.ResolveSafe(context.Background(), "example.test")
	require.NoError(t, err)

	assert.Equal(t, ip1, ip2)
	assert.Equal(t, 1, calls, "second lookup should be served from cache")
}
