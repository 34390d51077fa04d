package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/netsafety"
	"github.com/ledgerd/node/reorg"
)

// sharedHTTPClient is the single connection-pooled client every outbound
// call shares, per spec.md §5 ("Every outbound HTTP call uses a 10s
// timeout shared via a single connection-pooled client").
var sharedHTTPClient = &http.Client{Timeout: 10 * time.Second}

// HTTPPeerClient talks to a remote node over spec.md §6.2's endpoints:
// block reads by height, reachability probes, and /push_tx for gossip,
// implementing reorg.RemotePeer /
// sync.RemotePeer and sync.PeerSender.
type HTTPPeerClient struct {
	BaseURL  string
	Resolver *netsafety.Resolver
	Decode   TxDecoder
}

type getBlockResult struct {
	Block      json.RawMessage `json:"block"`
	CoinbaseHex string         `json:"coinbase_hex"`
	TxHexes    []string        `json:"tx_hexes"`
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// GetBlockAtHeight fetches the block at height from the peer via
// GET /get_block, returning nil (not an error) if the peer has no such
// block yet.
func (c *HTTPPeerClient) GetBlockAtHeight(ctx context.Context, height int64) (*reorg.RemoteBlock, error) {
	if err := c.checkHostSafe(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/get_block?id=%d", c.BaseURL, height)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "peerclient: build request failed", err)
	}

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "peerclient: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "peerclient: decode envelope failed", err)
	}
	if !env.OK {
		return nil, nil
	}

	var gbr getBlockResult
	if err := json.Unmarshal(env.Result, &gbr); err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "peerclient: decode result failed", err)
	}
	if len(gbr.Block) == 0 {
		return nil, nil
	}

	var block model.Block
	if err := json.Unmarshal(gbr.Block, &block); err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "peerclient: decode block failed", err)
	}

	coinbase, err := c.Decode(gbr.CoinbaseHex)
	if err != nil {
		return nil, errors.New(errors.ERR_TX_INVALID, "peerclient: decode coinbase failed", err)
	}
	txs := make([]model.Transaction, 0, len(gbr.TxHexes))
	for _, hex := range gbr.TxHexes {
		tx, err := c.Decode(hex)
		if err != nil {
			return nil, errors.New(errors.ERR_TX_INVALID, "peerclient: decode tx failed", err)
		}
		txs = append(txs, tx)
	}

	return &reorg.RemoteBlock{Block: &block, Coinbase: coinbase, Txs: txs}, nil
}

// CheckReachable dials url's /get_status endpoint through the same
// SSRF-safe resolution path as every other outbound call and reports
// whether it answered with a successful status, per spec.md §4.12's
// NAT/public-reachability probe (original_source's
// NodesManager.check_peer_reachability, which a remote peer asks this
// node to perform on its behalf via POST /check_reachability). Errors
// reaching the peer are reported as unreachable, not propagated, since
// an unreachable peer is exactly the outcome being asked about.
func (c *HTTPPeerClient) CheckReachable(ctx context.Context, rawURL string) bool {
	if err := c.checkURLSafe(ctx, rawURL); err != nil {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"/get_status", nil)
	if err != nil {
		return false
	}
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Send delivers a gossip payload to peer's URL, used as a sync.PeerSender.
func (c *HTTPPeerClient) Send(ctx context.Context, peer *model.PeerRecord, payload []byte) error {
	if peer.URL == "" {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "peerclient: peer has no URL")
	}
	if err := c.checkURLSafe(ctx, peer.URL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.URL+"/push_tx", bytes.NewReader(payload))
	if err != nil {
		return errors.New(errors.ERR_UNKNOWN, "peerclient: build request failed", err)
	}
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "peerclient: send failed", err)
	}
	defer resp.Body.Close()
	return nil
}

func (c *HTTPPeerClient) checkHostSafe(ctx context.Context) error {
	return c.checkURLSafe(ctx, c.BaseURL)
}

func (c *HTTPPeerClient) checkURLSafe(ctx context.Context, rawURL string) error {
	if c.Resolver == nil {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New(errors.ERR_INVALID_ARGUMENT, "peerclient: malformed peer URL", err)
	}
	_, err = c.Resolver.ResolveSafe(ctx, parsed.Hostname())
	return err
}
