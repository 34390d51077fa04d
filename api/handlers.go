package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/sync"
	"github.com/ledgerd/node/validator"
	"github.com/segmentio/encoding/json"
)

// maxSubmitBlocks is spec.md §8's "submit_blocks with 513 entries
// rejected with 413" boundary.
const maxSubmitBlocks = 512

// maxTransactionsByHash is spec.md §6.2's "fetch ≤ 512" cap.
const maxTransactionsByHash = 512

func (n *Node) handleRoot(w http.ResponseWriter, r *http.Request) {
	hash, err := n.Store.GetUnspentOutputsHash(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeOK(w, map[string]interface{}{"version": n.Version, "unspent_outputs_hash": hash})
}

func (n *Node) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	tip, err := n.Store.GetLastBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	height := int64(-1)
	lastHash := ""
	if tip != nil {
		height = tip.ID
		lastHash = tip.Hash
	}
	writeOK(w, map[string]interface{}{"height": height, "last_block_hash": lastHash, "node_id": n.Identity.NodeID})
}

func (n *Node) handleHandshakeChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := n.Sync.Challenges().Issue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "challenge issuance failed")
		return
	}
	resp := n.selfPeerView(r.Context())
	resp["challenge"] = challenge
	writeOK(w, resp)
}

func (n *Node) handleHandshakeResponse(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())

	var body struct {
		Challenge string `json:"challenge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := n.Sync.Challenges().Consume(body.Challenge); err != nil {
		writeError(w, http.StatusForbidden, "invalid or expired challenge")
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidHandshake)
		}
		return
	}

	peerHeight, err := strconv.ParseInt(r.Header.Get(DomainHeaderPfx+"height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing peer height")
		return
	}
	peerURL := r.Header.Get(DomainHeaderPfx + "url")

	tip, err := n.Store.GetLastBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	localHeight := int64(-1)
	if tip != nil {
		localHeight = tip.ID
	}

	if auth != nil {
		pubKey := r.Header.Get(HeaderPublicKey)
		if _, err := n.Peers.Discover(r.Context(), auth.NodeID, pubKey, peerURL, peerURL != ""); err != nil {
			writeError(w, http.StatusInternalServerError, "peer registry error")
			return
		}
	}

	decision := sync.Negotiate(localHeight, peerHeight)
	switch decision.Action {
	case sync.ActionPeerShouldPush:
		writeOK(w, map[string]interface{}{
			"result": "sync_requested",
			"detail": map[string]interface{}{"start_block": decision.StartBlock, "target_block": decision.TargetBlock},
		})
	case sync.ActionPeerShouldPull:
		writeJSON(w, http.StatusConflict, Envelope{
			Error:  "sync_required",
			Result: map[string]interface{}{"next_block_expected": decision.NextBlockExpect},
		})
	default:
		writeOK(w, nil)
	}
}

func (n *Node) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	writeOK(w, n.Peers.ListNonBanned())
}

func (n *Node) handleGetNodes(w http.ResponseWriter, r *http.Request) {
	type nodeInfo struct {
		NodeID string `json:"node_id"`
		URL    string `json:"url"`
	}
	public := make([]nodeInfo, 0)
	for _, p := range n.Peers.ListNonBanned() {
		if p.IsPublic && p.URL != "" {
			public = append(public, nodeInfo{NodeID: p.NodeID, URL: p.URL})
		}
	}
	writeOK(w, public)
}

func (n *Node) readTxHexBody(r *http.Request) (string, error) {
	var body struct {
		TxHex string `json:"tx_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.TxHex, nil
}

func (n *Node) handlePushTx(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())

	hexStr, err := n.readTxHexBody(r)
	if err != nil || hexStr == "" {
		writeError(w, http.StatusBadRequest, "missing tx_hex")
		return
	}
	tx, err := n.Decode(hexStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction")
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidTx)
		}
		return
	}
	if err := n.Pool.AddTransaction(r.Context(), tx); err != nil {
		writeError(w, http.StatusOK, err.Error())
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidTx)
		}
		return
	}
	writeOK(w, map[string]interface{}{"hash": tx.Hash()})
}

func (n *Node) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	hexStr, err := n.readTxHexBody(r)
	if err != nil || hexStr == "" {
		writeError(w, http.StatusBadRequest, "missing tx_hex")
		return
	}
	tx, err := n.Decode(hexStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction")
		return
	}
	if err := n.Pool.AddTransaction(r.Context(), tx); err != nil {
		writeError(w, http.StatusOK, err.Error())
		return
	}
	writeOK(w, map[string]interface{}{"hash": tx.Hash()})
}

func (n *Node) handleGetMiningInfo(w http.ResponseWriter, r *http.Request) {
	result, err := n.Builder.Build(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "template build failed")
		return
	}
	writeOK(w, result)
}

type pushBlockRequest struct {
	Content      string   `json:"content"`
	MinerAddress string   `json:"miner_address"`
	TxHashes     []string `json:"tx_hashes"`
	Genesis      bool     `json:"genesis"`
}

// resolveMempoolTxs looks up each requested hash in the pool, failing if
// any are missing — a mining candidate can go stale between
// get_mining_info and push_block (spec.md §4.7).
func (n *Node) resolveMempoolTxs(hashes []string) ([]model.Transaction, decimal.Decimal, error) {
	byHash := make(map[string]model.MempoolEntry, len(n.Pool.Entries()))
	for _, e := range n.Pool.Entries() {
		byHash[e.TxHash] = e
	}

	txs := make([]model.Transaction, 0, len(hashes))
	fees := decimal.Zero
	for _, h := range hashes {
		e, ok := byHash[h]
		if !ok {
			return nil, decimal.Zero, &txNotFoundError{hash: h}
		}
		txs = append(txs, e.Tx)
		fees = fees.Add(e.Tx.Fees())
	}
	return txs, fees, nil
}

type txNotFoundError struct{ hash string }

func (e *txNotFoundError) Error() string { return "transaction not in pool: " + e.hash }

func (n *Node) handlePushBlock(w http.ResponseWriter, r *http.Request) {
	var req pushBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	txs, fees, err := n.resolveMempoolTxs(req.TxHashes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	block, err := n.Val.CreateBlock(r.Context(), req.Content, txs, req.MinerAddress, fees, &validator.MiningInfo{Genesis: req.Genesis})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, h := range req.TxHashes {
		n.Pool.Remove(r.Context(), h)
	}

	writeOK(w, map[string]interface{}{"id": block.ID, "hash": block.Hash})
}

type submitBlockRequest struct {
	Content     string   `json:"content"`
	CoinbaseHex string   `json:"coinbase_hex"`
	TxHexes     []string `json:"tx_hexes"`
}

func (n *Node) decodeBlockTxs(req submitBlockRequest) (model.Transaction, []model.Transaction, error) {
	coinbase, err := n.Decode(req.CoinbaseHex)
	if err != nil {
		return nil, nil, err
	}
	txs := make([]model.Transaction, 0, len(req.TxHexes))
	for _, h := range req.TxHexes {
		tx, err := n.Decode(h)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
	}
	return coinbase, txs, nil
}

func (n *Node) handleSubmitBlock(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())

	var req submitBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	coinbase, txs, err := n.decodeBlockTxs(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed transaction")
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidBlock)
		}
		return
	}

	block, err := n.Val.AcceptRemoteBlock(r.Context(), req.Content, coinbase, txs, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidBlock)
		}
		return
	}
	writeOK(w, map[string]interface{}{"id": block.ID, "hash": block.Hash})
}

// handleSubmitBlocks applies a bulk push-sync batch sequentially,
// aborting without committing further blocks on the first failure, per
// spec.md §8 scenario 6.
func (n *Node) handleSubmitBlocks(w http.ResponseWriter, r *http.Request) {
	auth, _ := AuthFromContext(r.Context())
	nodeID := authNodeIDOr(auth, r.RemoteAddr)

	var req struct {
		Blocks []submitBlockRequest `json:"blocks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if len(req.Blocks) > maxSubmitBlocks {
		writeError(w, http.StatusRequestEntityTooLarge, "too many blocks")
		if auth != nil {
			_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationOversizedBlock)
		}
		return
	}

	release, err := n.Sync.State().AcquirePush(nodeID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer release()

	tip, err := n.Store.GetLastBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	expected := int64(0)
	if tip != nil {
		expected = tip.ID + 1
	}

	accepted := expected - 1
	for i, br := range req.Blocks {
		coinbase, txs, err := n.decodeBlockTxs(br)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed transaction")
			if auth != nil {
				_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidSyncBlock)
			}
			return
		}

		block, err := n.Val.AcceptRemoteBlock(r.Context(), br.Content, coinbase, txs, nil)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			if auth != nil {
				_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationInvalidSyncBlock)
			}
			return
		}

		if block.ID != expected+int64(i) {
			writeJSON(w, http.StatusOK, Envelope{OK: false, Error: "Block sequence must be continuous"})
			if auth != nil {
				_, _ = n.Peers.RecordViolation(r.Context(), auth.NodeID, peerregistry.ViolationNonContinuousBlock)
			}
			return
		}
		accepted = block.ID
	}

	writeOK(w, map[string]interface{}{"accepted_through": accepted})
}

func authNodeIDOr(auth *AuthContext, fallback string) string {
	if auth != nil {
		return auth.NodeID
	}
	return fallback
}

func (n *Node) handleSyncBlockchain(w http.ResponseWriter, r *http.Request) {
	peerURL := r.URL.Query().Get("peer")
	if peerURL == "" {
		writeError(w, http.StatusBadRequest, "missing peer query parameter")
		return
	}
	client := &HTTPPeerClient{BaseURL: peerURL, Decode: n.Decode, Resolver: n.Resolver}

	if err := n.Sync.PullSync(r.Context(), client, peerURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, nil)
}

func (n *Node) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var block *model.Block
	var err error
	if idStr := r.URL.Query().Get("id"); idStr != "" {
		id, parseErr := strconv.ParseInt(idStr, 10, 64)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		block, err = n.Store.GetBlockByID(ctx, id)
	} else if hash := r.URL.Query().Get("hash"); hash != "" {
		block, err = n.Store.GetBlock(ctx, hash)
	} else {
		writeError(w, http.StatusBadRequest, "missing id or hash")
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}

	n.respondWithBlockTxs(w, ctx, block)
}

func (n *Node) respondWithBlockTxs(w http.ResponseWriter, ctx context.Context, block *model.Block) {
	txs, err := n.Store.GetBlockTransactions(ctx, block.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	var coinbaseHex string
	txHexes := make([]string, 0, len(txs))
	for i, tx := range txs {
		if i == 0 && tx.IsCoinbase() {
			coinbaseHex = tx.Hex()
			continue
		}
		txHexes = append(txHexes, tx.Hex())
	}

	writeOK(w, map[string]interface{}{
		"block":        block,
		"coinbase_hex": coinbaseHex,
		"tx_hexes":     txHexes,
	})
}

func (n *Node) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := n.parsePagination(w, r)
	if !ok {
		return
	}
	blocks, err := n.Store.GetBlocks(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeOK(w, blocks)
}

func (n *Node) parsePagination(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}

	identifier := r.RemoteAddr
	if auth, found := AuthFromContext(r.Context()); found {
		identifier = auth.NodeID
	}
	cost := Cost(offset, limit)
	if !n.budget.Allow(identifier, cost) {
		writeError(w, http.StatusTooManyRequests, "query cost budget exceeded")
		return 0, 0, false
	}
	return offset, limit, true
}

func (n *Node) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "missing hash")
		return
	}
	tx, height, err := n.Store.GetNiceTransaction(r.Context(), hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeOK(w, map[string]interface{}{"hash": tx.Hash(), "hex": tx.Hex(), "height": height})
}

func (n *Node) handleGetMempoolHashes(w http.ResponseWriter, r *http.Request) {
	hashes, err := n.Store.GetAllPendingTransactionHashes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeOK(w, hashes)
}

func (n *Node) handleGetTransactionsByHash(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if len(body.Hashes) > maxTransactionsByHash {
		writeError(w, http.StatusRequestEntityTooLarge, "too many hashes requested")
		return
	}
	entries, err := n.Store.GetPendingTransactionsByHash(r.Context(), body.Hashes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	writeOK(w, entries)
}

func (n *Node) handleCheckReachability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URLToCheck string `json:"url_to_check"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URLToCheck == "" {
		writeError(w, http.StatusBadRequest, "missing url_to_check")
		return
	}

	client := &HTTPPeerClient{Resolver: n.Resolver, Decode: n.Decode}
	reachable := client.CheckReachable(r.Context(), body.URLToCheck)
	writeOK(w, map[string]interface{}{"reachable": reachable})
}

func (n *Node) handleGetAddressInfo(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	offset, limit, ok := n.parsePagination(w, r)
	if !ok {
		return
	}

	spendable, err := n.Store.GetSpendableOutputs(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	balance := decimal.Zero
	for _, o := range spendable {
		balance = balance.Add(o.Amount)
	}

	txs, err := n.Store.GetAddressTransactions(r.Context(), address, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeOK(w, map[string]interface{}{
		"balance":      balance,
		"transactions": txs,
	})
}
