package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ledgerd/node/mempool"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/netsafety"
	"github.com/ledgerd/node/peeridentity"
	"github.com/ledgerd/node/peerregistry"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/sync"
	"github.com/ledgerd/node/templatebuilder"
	"github.com/ledgerd/node/ulogger"
	"github.com/ledgerd/node/validator"
)

// TxDecoder reconstructs a model.Transaction from wire hex, mirroring
// storage/sqlstore's injected decoder: the concrete transaction type is
// an external collaborator (spec.md §1), so the API layer cannot import
// one directly and instead takes a constructor function from its caller.
type TxDecoder func(hex string) (model.Transaction, error)

// Node bundles every collaborator the HTTP surface calls into, per
// spec.md §6.2.
type Node struct {
	Logger   ulogger.Logger
	Store    storage.Store
	Val      *validator.Validator
	Pool     *mempool.Mempool
	Builder  *templatebuilder.Builder
	Peers    *peerregistry.Registry
	Sync     *sync.Orchestrator
	Identity *peeridentity.Identity
	Decode   TxDecoder
	Resolver *netsafety.Resolver

	Version string
	SelfURL string

	auth   *Authenticator
	budget *CostBudget
}

// NewRouter builds the full gorilla/mux router of spec.md §6.2, with
// top-level panic recovery and, for signed endpoints, authentication.
func NewRouter(n *Node) *mux.Router {
	n.auth = NewAuthenticator()
	n.budget = NewCostBudget()

	r := mux.NewRouter()
	r.Use(recoverMiddleware(n.Logger))

	r.HandleFunc("/", n.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/get_status", n.handleGetStatus).Methods(http.MethodGet)

	r.HandleFunc("/handshake/challenge", n.handleHandshakeChallenge).Methods(http.MethodGet)
	r.HandleFunc("/handshake/response", n.auth.RequireSigned(n.handleHandshakeResponse)).Methods(http.MethodPost)
	r.HandleFunc("/get_peers", n.auth.RequireSigned(n.handleGetPeers)).Methods(http.MethodPost)

	r.HandleFunc("/push_tx", n.auth.RequireSigned(n.handlePushTx)).Methods(http.MethodPost)
	r.HandleFunc("/submit_tx", n.handleSubmitTx).Methods(http.MethodPost)

	r.HandleFunc("/push_block", n.handlePushBlock).Methods(http.MethodPost)
	r.HandleFunc("/submit_block", n.auth.RequireSigned(n.handleSubmitBlock)).Methods(http.MethodPost)
	r.HandleFunc("/submit_blocks", n.auth.RequireSigned(n.handleSubmitBlocks)).Methods(http.MethodPost)

	r.HandleFunc("/sync_blockchain", n.handleSyncBlockchain).Methods(http.MethodGet)
	r.HandleFunc("/get_mining_info", n.handleGetMiningInfo).Methods(http.MethodGet)

	r.HandleFunc("/get_block", n.handleGetBlock).Methods(http.MethodGet)
	r.HandleFunc("/get_blocks", n.handleGetBlocks).Methods(http.MethodGet)
	r.HandleFunc("/get_transaction", n.handleGetTransaction).Methods(http.MethodGet)

	r.HandleFunc("/get_mempool_hashes", n.auth.RequireSigned(n.handleGetMempoolHashes)).Methods(http.MethodPost)
	r.HandleFunc("/get_transactions_by_hash", n.auth.RequireSigned(n.handleGetTransactionsByHash)).Methods(http.MethodPost)
	r.HandleFunc("/check_reachability", n.auth.RequireSigned(n.handleCheckReachability)).Methods(http.MethodPost)

	r.HandleFunc("/get_address_info", n.handleGetAddressInfo).Methods(http.MethodGet)
	r.HandleFunc("/get_nodes", n.handleGetNodes).Methods(http.MethodGet)

	return r
}

// selfPeerView is the server-state payload attached to both the
// handshake challenge and (implicitly) its negotiation decision, per
// spec.md §4.10.
func (n *Node) selfPeerView(ctx context.Context) map[string]interface{} {
	height := int64(-1)
	lastHash := ""
	if tip, err := n.Store.GetLastBlock(ctx); err == nil && tip != nil {
		height = tip.ID
		lastHash = tip.Hash
	}
	isPublic := n.SelfURL != ""
	return map[string]interface{}{
		"node_id":   n.Identity.NodeID,
		"pubkey":    n.Identity.PubKeyHex,
		"is_public": isPublic,
		"url":       n.SelfURL,
		"height":    height,
		"last_hash": lastHash,
	}
}
