// Package memstore is an in-memory Store implementation, used by tests
// and by LEDGERD_STORAGE_DRIVER=memory. Grounded on the teacher's
// stores/utxo/memory.Memory: a single mutex guarding plain Go maps, no
// persistence across restarts.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
)

// Memstore implements storage.Store entirely in process memory.
type Memstore struct {
	mu sync.Mutex

	blocksByID   map[int64]*model.Block
	blocksByHash map[string]*model.Block
	txsByBlock   map[int64][]model.Transaction // coinbase first, then regulars
	txsByHash    map[string]model.Transaction
	nextID       int64

	unspent map[storage.UnspentKey]storage.UnspentOutput
	pending map[string]model.MempoolEntry
}

// New returns an empty Memstore.
func New() *Memstore {
	return &Memstore{
		blocksByID:   make(map[int64]*model.Block),
		blocksByHash: make(map[string]*model.Block),
		txsByBlock:   make(map[int64][]model.Transaction),
		txsByHash:    make(map[string]model.Transaction),
		unspent:      make(map[storage.UnspentKey]storage.UnspentOutput),
		pending:      make(map[string]model.MempoolEntry),
	}
}

func (m *Memstore) GetLastBlock(_ context.Context) (*model.ChainTip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextID == 0 {
		return nil, nil
	}
	b := m.blocksByID[m.nextID-1]
	return &model.ChainTip{ID: b.ID, Hash: b.Hash, Difficulty: b.Header.Difficulty, Timestamp: b.Header.Timestamp}, nil
}

func (m *Memstore) GetBlock(_ context.Context, hash string) (*model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocksByHash[hash]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (m *Memstore) GetBlockByID(_ context.Context, id int64) (*model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocksByID[id]
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (m *Memstore) GetBlocks(_ context.Context, offset, limit int) ([]*model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.blocksByID))
	for id := range m.blocksByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if offset >= len(ids) {
		return nil, nil
	}
	end := offset + limit
	if end > len(ids) || limit <= 0 {
		end = len(ids)
	}

	out := make([]*model.Block, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, m.blocksByID[id])
	}
	return out, nil
}

func (m *Memstore) GetNextBlockID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID, nil
}

func (m *Memstore) GetBlockTransactions(_ context.Context, id int64) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := m.txsByBlock[id]
	out := make([]model.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (m *Memstore) AddBlock(_ context.Context, block *model.Block, coinbase model.Transaction, txs []model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if block.ID != m.nextID {
		return errors.New(errors.ERR_STORAGE, "block id %d does not match expected next id %d", block.ID, m.nextID)
	}

	all := make([]model.Transaction, 0, len(txs)+1)
	all = append(all, coinbase)
	all = append(all, txs...)

	m.blocksByID[block.ID] = block
	m.blocksByHash[block.Hash] = block
	m.txsByBlock[block.ID] = all
	m.nextID++

	for _, tx := range all {
		m.txsByHash[tx.Hash()] = tx
		for i, out := range tx.Outputs() {
			key := storage.UnspentKey{TxHash: tx.Hash(), Index: i}
			m.unspent[key] = storage.UnspentOutput{Key: key, Address: out.Address, Amount: out.Amount}
		}
	}
	for _, tx := range txs {
		for _, in := range tx.Inputs() {
			delete(m.unspent, storage.UnspentKey{TxHash: in.TxHash, Index: in.Index})
		}
		delete(m.pending, tx.Hash())
	}

	return nil
}

// unwindBlockLocked reverses a single block's effect on the unspent set:
// every output it created is removed, and every prevout its regular
// transactions consumed is reinstated from the spending tx's recorded
// parent. Callers must hold m.mu.
func (m *Memstore) unwindBlockLocked(b *model.Block) {
	txs := m.txsByBlock[b.ID]
	for _, tx := range txs {
		for i := range tx.Outputs() {
			delete(m.unspent, storage.UnspentKey{TxHash: tx.Hash(), Index: i})
		}
		delete(m.txsByHash, tx.Hash())
	}
	for _, tx := range txs {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs() {
			parent, ok := m.txsByHash[in.TxHash]
			if !ok || in.Index >= len(parent.Outputs()) {
				continue
			}
			out := parent.Outputs()[in.Index]
			key := storage.UnspentKey{TxHash: in.TxHash, Index: in.Index}
			m.unspent[key] = storage.UnspentOutput{Key: key, Address: out.Address, Amount: out.Amount}
		}
	}
}

func (m *Memstore) DeleteBlock(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.blocksByID[id]
	if !ok {
		return nil
	}
	m.unwindBlockLocked(b)
	delete(m.blocksByID, id)
	delete(m.blocksByHash, b.Hash)
	delete(m.txsByBlock, id)
	if id == m.nextID-1 {
		m.nextID--
	}
	return nil
}

func (m *Memstore) RemoveBlocks(_ context.Context, fromID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0)
	for id := range m.blocksByID {
		if id >= fromID {
			ids = append(ids, id)
		}
	}
	// Unwind highest-first so each block's parent lookups still see the
	// not-yet-unwound transactions below it.
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	for _, id := range ids {
		b := m.blocksByID[id]
		m.unwindBlockLocked(b)
		delete(m.blocksByID, id)
		delete(m.blocksByHash, b.Hash)
		delete(m.txsByBlock, id)
	}
	if fromID < m.nextID {
		m.nextID = fromID
	}
	return nil
}

func (m *Memstore) AddTransaction(_ context.Context, blockID int64, tx model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txsByBlock[blockID] = append(m.txsByBlock[blockID], tx)
	return nil
}

func (m *Memstore) AddTransactions(ctx context.Context, blockID int64, txs []model.Transaction) error {
	for _, tx := range txs {
		if err := m.AddTransaction(ctx, blockID, tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memstore) AddUnspentTransactionOutputs(_ context.Context, outputs []storage.UnspentOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range outputs {
		m.unspent[o.Key] = o
	}
	return nil
}

func (m *Memstore) RemoveUnspentOutputs(_ context.Context, keys []storage.UnspentKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.unspent, k)
	}
	return nil
}

func (m *Memstore) GetUnspentOutputs(_ context.Context, keys []storage.UnspentKey) ([]storage.UnspentOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]storage.UnspentOutput, 0, len(keys))
	for _, k := range keys {
		if u, ok := m.unspent[k]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memstore) GetUnspentOutputsHash(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.unspent))
	for k := range m.unspent {
		keys = append(keys, k.TxHash)
	}
	sort.Strings(keys)
	return hashStrings(keys), nil
}

func (m *Memstore) GetSpendableOutputs(_ context.Context, address string) ([]storage.UnspentOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.UnspentOutput
	for _, u := range m.unspent {
		if u.Address == address {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memstore) GetAddressTransactions(_ context.Context, address string, offset, limit int) ([]storage.AddressTxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refs []storage.AddressTxRef
	for id, txs := range m.txsByBlock {
		for _, tx := range txs {
			for _, out := range tx.Outputs() {
				if out.Address == address {
					refs = append(refs, storage.AddressTxRef{TxHash: tx.Hash(), Height: id})
				}
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Height < refs[j].Height })

	if offset >= len(refs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(refs) || limit <= 0 {
		end = len(refs)
	}
	return refs[offset:end], nil
}

func (m *Memstore) GetNiceTransaction(_ context.Context, hash string) (model.Transaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, txs := range m.txsByBlock {
		for _, tx := range txs {
			if tx.Hash() == hash {
				return tx, id, nil
			}
		}
	}
	return nil, 0, nil
}

func (m *Memstore) AddPendingTransaction(_ context.Context, entry model.MempoolEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[entry.TxHash] = entry
	return nil
}

func (m *Memstore) GetPendingTransactionCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *Memstore) GetAllPendingTransactionHashes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.pending))
	for h := range m.pending {
		out = append(out, h)
	}
	return out, nil
}

func (m *Memstore) GetPendingTransactionsByHash(_ context.Context, hashes []string) ([]model.MempoolEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.MempoolEntry, 0, len(hashes))
	for _, h := range hashes {
		if e, ok := m.pending[h]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memstore) RemovePendingTransaction(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, hash)
	return nil
}

func (m *Memstore) RemovePendingTransactionsByHash(_ context.Context, hashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		delete(m.pending, h)
	}
	return nil
}

func (m *Memstore) RemovePendingSpentOutputs(_ context.Context, keys []storage.UnspentKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	spent := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		spent[k.TxHash] = struct{}{}
	}
	for hash, entry := range m.pending {
		for _, in := range entry.Tx.Inputs() {
			if _, ok := spent[in.TxHash]; ok {
				delete(m.pending, hash)
				break
			}
		}
	}
	return nil
}

func (m *Memstore) RemoveAllPendingTransactions(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = make(map[string]model.MempoolEntry)
	return nil
}
