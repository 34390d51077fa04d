package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerd/node/mempool"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/peeridentity"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/reorg"
	"github.com/ledgerd/node/storage/memstore"
	"github.com/ledgerd/node/sync"
	"github.com/ledgerd/node/templatebuilder"
	"github.com/ledgerd/node/ulogger"
	"github.com/ledgerd/node/validator"
)

// fakeTx is a minimal model.Transaction for exercising handlers without a
// real wire-format transaction library, grounded on validator's own
// fakeTx test helper (validator/fake_tx.go).
type fakeTx struct {
	hash     string
	hexVal   string
	fees     decimal.Decimal
	verifyOK bool
}

func (f *fakeTx) Hash() string           { return f.hash }
func (f *fakeTx) Hex() string            { return f.hexVal }
func (f *fakeTx) Inputs() []model.Input  { return nil }
func (f *fakeTx) Outputs() []model.Output { return nil }
func (f *fakeTx) Fees() decimal.Decimal  { return f.fees }
func (f *fakeTx) IsCoinbase() bool       { return false }
func (f *fakeTx) Verify(_ context.Context, _ bool) (bool, error) {
	return f.verifyOK, nil
}

func fakeDecode(hexStr string) (model.Transaction, error) {
	if hexStr == "" || hexStr == "bad" {
		return nil, assertErr("malformed")
	}
	return &fakeTx{hash: "hash-" + hexStr, hexVal: hexStr, fees: decimal.Zero, verifyOK: true}, nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func newTestNode(t *testing.T) (*Node, *peeridentity.Identity) {
	t.Helper()
	store := memstore.New()
	logger := ulogger.New("api-test")
	val := validator.New(logger, store)
	pool := mempool.New(store)
	builder := templatebuilder.New(pool, store)
	peers := peerregistry.New()
	reorgEngine := reorg.New(store, val, pool)
	orchestrator := sync.New(store, val, reorgEngine, peers)

	identity, err := peeridentity.Generate()
	require.NoError(t, err)

	n := &Node{
		Logger:   logger,
		Store:    store,
		Val:      val,
		Pool:     pool,
		Builder:  builder,
		Peers:    peers,
		Sync:     orchestrator,
		Identity: identity,
		Decode:   fakeDecode,
		Version:  "test",
	}
	return n, identity
}

func newRouter(t *testing.T) (*Node, *peeridentity.Identity, http.Handler) {
	n, id := newTestNode(t)
	return n, id, NewRouter(n)
}

func decodeEnvelope(t *testing.T, body []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestHandleGetStatus_EmptyStore(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/get_status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, float64(-1), result["height"])
}

func TestHandleRoot_ReturnsVersion(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, "test", result["version"])
}

func TestRequireSigned_RejectsUnsignedRequest(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/get_peers", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.False(t, env.OK)
}

// signRequest builds a fully signed request per spec.md §4.9's header
// scheme, mirroring Authenticator.verify's own reconstruction.
func signRequest(t *testing.T, id *peeridentity.Identity, method, path string, body []byte, domainHeaders map[string]string) *http.Request {
	t.Helper()
	timestamp := time.Now().Unix()
	nonce := peeridentity.NewNonce()

	payload, err := peeridentity.CanonicalPayload(string(body), timestamp, nonce, domainHeaders)
	require.NoError(t, err)

	sig, err := id.Sign(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set(HeaderNodeID, id.NodeID)
	req.Header.Set(HeaderPublicKey, id.PubKeyHex)
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderNonce, nonce)
	for k, v := range domainHeaders {
		req.Header.Set(DomainHeaderPfx+k, v)
	}
	return req
}

func TestRequireSigned_AcceptsValidSignature(t *testing.T) {
	_, id, router := newRouter(t)

	req := signRequest(t, id, http.MethodPost, "/get_peers", []byte("{}"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
}

func TestRequireSigned_RejectsReplayedNonce(t *testing.T) {
	_, id, router := newRouter(t)

	req1 := signRequest(t, id, http.MethodPost, "/get_peers", []byte("{}"), nil)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusOK, rec1.Code)

	timestamp := req1.Header.Get(HeaderTimestamp)
	nonce := req1.Header.Get(HeaderNonce)

	req2 := httptest.NewRequest(http.MethodPost, "/get_peers", bytes.NewReader([]byte("{}")))
	req2.Header.Set(HeaderNodeID, id.NodeID)
	req2.Header.Set(HeaderPublicKey, id.PubKeyHex)
	req2.Header.Set(HeaderSignature, req1.Header.Get(HeaderSignature))
	req2.Header.Set(HeaderTimestamp, timestamp)
	req2.Header.Set(HeaderNonce, nonce)

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusForbidden, rec2.Code)
}

func TestHandlePushTx_MalformedHexRecordsViolation(t *testing.T) {
	n, id, router := newRouter(t)

	body, err := json.Marshal(map[string]string{"tx_hex": "bad"})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/push_tx", body, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.False(t, env.OK)

	peer := n.Peers.Get(id.NodeID)
	require.NotNil(t, peer)
	assert.Less(t, peer.ReputationScore, 0)
}

func TestHandlePushTx_AcceptsValidTransaction(t *testing.T) {
	_, id, router := newRouter(t)

	body, err := json.Marshal(map[string]string{"tx_hex": "deadbeef"})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/push_tx", body, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
}

func TestHandleSubmitBlocks_RejectsOversizedBatch(t *testing.T) {
	_, id, router := newRouter(t)

	blocks := make([]map[string]interface{}, maxSubmitBlocks+1)
	for i := range blocks {
		blocks[i] = map[string]interface{}{"content": "", "coinbase_hex": "deadbeef", "tx_hexes": []string{}}
	}
	body, err := json.Marshal(map[string]interface{}{"blocks": blocks})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/submit_blocks", body, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleGetBlocks_CostBudgetExceeded(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/get_blocks?offset=1000000&limit=1000000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleGetNodes_OnlyListsPublicPeersWithURL(t *testing.T) {
	n, _, router := newRouter(t)

	_, err := n.Peers.Discover(context.Background(), "peer-public", "pub", "http://peer.example", true)
	require.NoError(t, err)
	_, err = n.Peers.Discover(context.Background(), "peer-private", "pub2", "", false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/get_nodes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec.Body.Bytes())
	require.True(t, env.OK)
	list := env.Result.([]interface{})
	require.Len(t, list, 1)
	entry := list[0].(map[string]interface{})
	assert.Equal(t, "peer-public", entry["node_id"])
}

func TestHandleHandshakeChallenge_IssuesChallenge(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/handshake/challenge", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	env := decodeEnvelope(t, rec.Body.Bytes())
	require.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.NotEmpty(t, result["challenge"])
	assert.NotEmpty(t, result["node_id"])
}

func TestHandleHandshakeResponse_RejectsUnknownChallenge(t *testing.T) {
	_, id, router := newRouter(t)

	body, err := json.Marshal(map[string]string{"challenge": "nonexistent"})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/handshake/response", body, map[string]string{"height": "5"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleHandshakeResponse_EqualHeightsSucceeds(t *testing.T) {
	n, id, router := newRouter(t)

	challenge, err := n.Sync.Challenges().Issue()
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{"challenge": challenge})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/handshake/response", body, map[string]string{"height": "-1"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
}

func TestHandleCheckReachability_RejectsMissingURL(t *testing.T) {
	_, id, router := newRouter(t)

	req := signRequest(t, id, http.MethodPost, "/check_reachability", []byte("{}"), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCheckReachability_ProbesURLAndReportsUnreachable(t *testing.T) {
	_, id, router := newRouter(t)

	// Port 1 is reserved and never accepts connections, so this probe
	// fails fast with connection refused rather than exercising a real
	// live peer.
	body, err := json.Marshal(map[string]string{"url_to_check": "http://127.0.0.1:1"})
	require.NoError(t, err)
	req := signRequest(t, id, http.MethodPost, "/check_reachability", body, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body.Bytes())
	assert.True(t, env.OK)
	result := env.Result.(map[string]interface{})
	assert.Equal(t, false, result["reachable"])
}

func TestHandleGetAddressInfo_MissingAddress(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/get_address_info", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGetBlock_NotFound(t *testing.T) {
	_, _, router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/get_block?id=5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCostBudget_AllowsWithinCap(t *testing.T) {
	b := NewCostBudget()
	assert.True(t, b.Allow("id1", Cost(0, 50)))
}

func TestCostBudget_RejectsOverCap(t *testing.T) {
	b := NewCostBudget()
	assert.False(t, b.Allow("id1", Cost(1000000, 1000000)))
}
