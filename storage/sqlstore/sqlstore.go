// Package sqlstore is the Postgres-backed Store implementation, grounded
// on the teacher's stores/blockchain/sql and stores/utxo/sql packages:
// database/sql plus the lib/pq driver, schema bootstrap via
// CREATE TABLE IF NOT EXISTS, and a single *sql.DB shared across
// goroutines.
//
// Transaction bodies are an external collaborator (spec.md §1): this
// store persists only their hex encoding and reconstructs model.Transaction
// values through an injected TxDecoder, since decoding hex back into a
// signature/UTXO-aware Transaction is outside the core's scope.
package sqlstore

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	"github.com/ledgerd/node/errors"
	"github.com/ledgerd/node/model"
	"github.com/ledgerd/node/storage"
	"github.com/ledgerd/node/ulogger"
)

// TxDecoder reconstructs a model.Transaction from its stored hex form.
type TxDecoder func(hex string) (model.Transaction, error)

// SQL is a Postgres-backed storage.Store.
type SQL struct {
	db     *sql.DB
	logger ulogger.Logger
	decode TxDecoder
}

// Open connects to dsn, bootstraps the schema and returns a ready Store.
func Open(ctx context.Context, dsn string, logger ulogger.Logger, decode TxDecoder) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "failed to open postgres connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "failed to ping postgres", err)
	}

	s := &SQL{db: db, logger: logger, decode: decode}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			id            BIGINT PRIMARY KEY,
			hash          TEXT NOT NULL UNIQUE,
			previous_hash TEXT NOT NULL,
			address       TEXT NOT NULL,
			merkle_root   TEXT NOT NULL,
			timestamp     BIGINT NOT NULL,
			difficulty    DOUBLE PRECISION NOT NULL,
			nonce         BIGINT NOT NULL,
			legacy        BOOLEAN NOT NULL,
			version       SMALLINT NOT NULL,
			content       TEXT NOT NULL,
			reward        NUMERIC NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			tx_hash      TEXT PRIMARY KEY,
			block_id     BIGINT NOT NULL REFERENCES blocks(id),
			is_coinbase  BOOLEAN NOT NULL,
			hex          TEXT NOT NULL,
			fees         NUMERIC NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ix_transactions_block_id ON transactions (block_id)`,
		`CREATE TABLE IF NOT EXISTS tx_inputs (
			tx_hash           TEXT NOT NULL REFERENCES transactions(tx_hash),
			prevout_tx_hash   TEXT NOT NULL,
			prevout_index     INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS unspent_outputs (
			tx_hash TEXT NOT NULL,
			idx     INT NOT NULL,
			address TEXT NOT NULL,
			amount  NUMERIC NOT NULL,
			PRIMARY KEY (tx_hash, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS ix_unspent_outputs_address ON unspent_outputs (address)`,
		`CREATE TABLE IF NOT EXISTS pending_transactions (
			tx_hash        TEXT PRIMARY KEY,
			hex            TEXT NOT NULL,
			insertion_time TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.New(errors.ERR_STORAGE, "failed to apply schema statement", err)
		}
	}
	return nil
}

func (s *SQL) GetLastBlock(ctx context.Context) (*model.ChainTip, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, hash, difficulty, timestamp FROM blocks ORDER BY id DESC LIMIT 1`)

	var tip model.ChainTip
	if err := row.Scan(&tip.ID, &tip.Hash, &tip.Difficulty, &tip.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.New(errors.ERR_STORAGE, "get_last_block failed", err)
	}
	return &tip, nil
}

func (s *SQL) scanBlock(ctx context.Context, row *sql.Row) (*model.Block, error) {
	var b model.Block
	var legacy bool
	var version int16
	if err := row.Scan(&b.ID, &b.Hash, &b.Header.PreviousHash, &b.Header.Address, &b.Header.MerkleRoot,
		&b.Header.Timestamp, &b.Header.Difficulty, &b.Header.Nonce, &legacy, &version, &b.Content, &b.Reward); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.New(errors.ERR_STORAGE, "get_block failed", err)
	}
	b.Header.Legacy = legacy
	b.Header.Version = byte(version)
	return &b, nil
}

const blockColumns = `id, hash, previous_hash, address, merkle_root, timestamp, difficulty, nonce, legacy, version, content, reward`

func (s *SQL) GetBlock(ctx context.Context, hash string) (*model.Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE hash = $1`, hash)
	return s.scanBlock(ctx, row)
}

func (s *SQL) GetBlockByID(ctx context.Context, id int64) (*model.Block, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+blockColumns+` FROM blocks WHERE id = $1`, id)
	return s.scanBlock(ctx, row)
}

func (s *SQL) GetBlocks(ctx context.Context, offset, limit int) ([]*model.Block, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY id ASC OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "get_blocks failed", err)
	}
	defer rows.Close()

	var out []*model.Block
	for rows.Next() {
		var b model.Block
		var legacy bool
		var version int16
		if err := rows.Scan(&b.ID, &b.Hash, &b.Header.PreviousHash, &b.Header.Address, &b.Header.MerkleRoot,
			&b.Header.Timestamp, &b.Header.Difficulty, &b.Header.Nonce, &legacy, &version, &b.Content, &b.Reward); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_blocks scan failed", err)
		}
		b.Header.Legacy = legacy
		b.Header.Version = byte(version)
		out = append(out, &b)
	}
	return out, rows.Err()
}

func (s *SQL) GetNextBlockID(ctx context.Context) (int64, error) {
	var maxID sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM blocks`).Scan(&maxID); err != nil {
		return 0, errors.New(errors.ERR_STORAGE, "get_next_block_id failed", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return maxID.Int64 + 1, nil
}

// GetBlockTransactions returns every transaction stored against id, coinbase
// first (is_coinbase DESC sorts true before false), then regulars.
func (s *SQL) GetBlockTransactions(ctx context.Context, id int64) ([]model.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hex FROM transactions WHERE block_id = $1 ORDER BY is_coinbase DESC, tx_hash ASC
	`, id)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "get_block_transactions failed", err)
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_block_transactions scan failed", err)
		}
		t, err := s.decode(hex)
		if err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_block_transactions: decode failed", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AddBlock inserts the block, its coinbase and regular transactions, their
// outputs into the unspent set, and removes consumed unspent outputs and
// included pending txs — all within one transaction, per spec.md §4.5.
// A failed commit leaves the caller free to call DeleteBlock as rollback.
func (s *SQL) AddBlock(ctx context.Context, block *model.Block, coinbase model.Transaction, txs []model.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "add_block: begin tx failed", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blocks (id, hash, previous_hash, address, merkle_root, timestamp, difficulty, nonce, legacy, version, content, reward)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, block.ID, block.Hash, block.Header.PreviousHash, block.Header.Address, block.Header.MerkleRoot,
		block.Header.Timestamp, block.Header.Difficulty, block.Header.Nonce, block.Header.Legacy, block.Header.Version,
		block.Content, block.Reward); err != nil {
		return errors.New(errors.ERR_STORAGE, "add_block: insert block failed", err)
	}

	all := append([]model.Transaction{coinbase}, txs...)
	for i, t := range all {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (tx_hash, block_id, is_coinbase, hex, fees) VALUES ($1,$2,$3,$4,$5)
		`, t.Hash(), block.ID, i == 0, t.Hex(), t.Fees().String()); err != nil {
			return errors.New(errors.ERR_STORAGE, "add_block: insert transaction failed", err)
		}

		for idx, out := range t.Outputs() {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO unspent_outputs (tx_hash, idx, address, amount) VALUES ($1,$2,$3,$4)
			`, t.Hash(), idx, out.Address, out.Amount.String()); err != nil {
				return errors.New(errors.ERR_STORAGE, "add_block: insert unspent output failed", err)
			}
		}
	}

	for _, t := range txs {
		for _, in := range t.Inputs() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM unspent_outputs WHERE tx_hash=$1 AND idx=$2`, in.TxHash, in.Index); err != nil {
				return errors.New(errors.ERR_STORAGE, "add_block: remove unspent output failed", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_transactions WHERE tx_hash=$1`, t.Hash()); err != nil {
			return errors.New(errors.ERR_STORAGE, "add_block: remove pending tx failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.ERR_STORAGE, "add_block: commit failed", err)
	}
	return nil
}

func (s *SQL) DeleteBlock(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE block_id = $1`, id); err != nil {
		return errors.New(errors.ERR_STORAGE, "delete_block: delete transactions failed", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id = $1`, id); err != nil {
		return errors.New(errors.ERR_STORAGE, "delete_block failed", err)
	}
	return nil
}

func (s *SQL) RemoveBlocks(ctx context.Context, fromID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE block_id >= $1`, fromID); err != nil {
		return errors.New(errors.ERR_STORAGE, "remove_blocks: delete transactions failed", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blocks WHERE id >= $1`, fromID); err != nil {
		return errors.New(errors.ERR_STORAGE, "remove_blocks failed", err)
	}
	return nil
}

func (s *SQL) AddTransaction(ctx context.Context, blockID int64, t model.Transaction) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO transactions (tx_hash, block_id, is_coinbase, hex, fees) VALUES ($1,$2,$3,$4,$5)`,
		t.Hash(), blockID, t.IsCoinbase(), t.Hex(), t.Fees().String())
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "add_transaction failed", err)
	}
	return nil
}

func (s *SQL) AddTransactions(ctx context.Context, blockID int64, txs []model.Transaction) error {
	for _, t := range txs {
		if err := s.AddTransaction(ctx, blockID, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) AddUnspentTransactionOutputs(ctx context.Context, outputs []storage.UnspentOutput) error {
	for _, o := range outputs {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO unspent_outputs (tx_hash, idx, address, amount) VALUES ($1,$2,$3,$4)
			ON CONFLICT (tx_hash, idx) DO UPDATE SET address = $3, amount = $4`,
			o.Key.TxHash, o.Key.Index, o.Address, o.Amount.String()); err != nil {
			return errors.New(errors.ERR_STORAGE, "add_unspent_transactions_outputs failed", err)
		}
	}
	return nil
}

func (s *SQL) RemoveUnspentOutputs(ctx context.Context, keys []storage.UnspentKey) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM unspent_outputs WHERE tx_hash=$1 AND idx=$2`, k.TxHash, k.Index); err != nil {
			return errors.New(errors.ERR_STORAGE, "remove_unspent_outputs failed", err)
		}
	}
	return nil
}

func (s *SQL) GetUnspentOutputs(ctx context.Context, keys []storage.UnspentKey) ([]storage.UnspentOutput, error) {
	out := make([]storage.UnspentOutput, 0, len(keys))
	for _, k := range keys {
		row := s.db.QueryRowContext(ctx, `SELECT tx_hash, idx, address, amount FROM unspent_outputs WHERE tx_hash=$1 AND idx=$2`, k.TxHash, k.Index)
		var u storage.UnspentOutput
		var amount string
		if err := row.Scan(&u.Key.TxHash, &u.Key.Index, &u.Address, &amount); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, errors.New(errors.ERR_STORAGE, "get_unspent_outputs failed", err)
		}
		if err := u.Amount.UnmarshalText([]byte(amount)); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_unspent_outputs: malformed amount", err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQL) GetUnspentOutputsHash(ctx context.Context) (string, error) {
	var digest sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT md5(string_agg(tx_hash || ':' || idx::text, ',' ORDER BY tx_hash, idx)) FROM unspent_outputs
	`).Scan(&digest)
	if err != nil {
		return "", errors.New(errors.ERR_STORAGE, "get_unspent_outputs_hash failed", err)
	}
	return digest.String, nil
}

func (s *SQL) GetSpendableOutputs(ctx context.Context, address string) ([]storage.UnspentOutput, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tx_hash, idx, address, amount FROM unspent_outputs WHERE address=$1`, address)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "get_spendable_outputs failed", err)
	}
	defer rows.Close()

	var out []storage.UnspentOutput
	for rows.Next() {
		var u storage.UnspentOutput
		var amount string
		if err := rows.Scan(&u.Key.TxHash, &u.Key.Index, &u.Address, &amount); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_spendable_outputs scan failed", err)
		}
		if err := u.Amount.UnmarshalText([]byte(amount)); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_spendable_outputs: malformed amount", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQL) GetAddressTransactions(ctx context.Context, address string, offset, limit int) ([]storage.AddressTxRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT t.tx_hash, t.block_id
		FROM transactions t
		JOIN unspent_outputs u ON u.tx_hash = t.tx_hash
		WHERE u.address = $1
		ORDER BY t.block_id ASC
		OFFSET $2 LIMIT $3
	`, address, offset, limit)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "get_address_transactions failed", err)
	}
	defer rows.Close()

	var out []storage.AddressTxRef
	for rows.Next() {
		var ref storage.AddressTxRef
		if err := rows.Scan(&ref.TxHash, &ref.Height); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_address_transactions scan failed", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *SQL) GetNiceTransaction(ctx context.Context, hash string) (model.Transaction, int64, error) {
	var hex string
	var blockID int64
	err := s.db.QueryRowContext(ctx, `SELECT hex, block_id FROM transactions WHERE tx_hash = $1`, hash).Scan(&hex, &blockID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, errors.New(errors.ERR_STORAGE, "get_nice_transaction failed", err)
	}
	t, err := s.decode(hex)
	if err != nil {
		return nil, 0, errors.New(errors.ERR_STORAGE, "get_nice_transaction: decode failed", err)
	}
	return t, blockID, nil
}

func (s *SQL) AddPendingTransaction(ctx context.Context, entry model.MempoolEntry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pending_transactions (tx_hash, hex, insertion_time) VALUES ($1,$2,$3)`,
		entry.TxHash, entry.Tx.Hex(), entry.InsertionTime)
	if err != nil {
		return errors.New(errors.ERR_STORAGE, "add_pending_transaction failed", err)
	}
	return nil
}

func (s *SQL) GetPendingTransactionCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_transactions`).Scan(&count); err != nil {
		return 0, errors.New(errors.ERR_STORAGE, "get_pending_transaction_count failed", err)
	}
	return count, nil
}

func (s *SQL) GetAllPendingTransactionHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tx_hash FROM pending_transactions`)
	if err != nil {
		return nil, errors.New(errors.ERR_STORAGE, "get_all_pending_transaction_hashes failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_all_pending_transaction_hashes scan failed", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *SQL) GetPendingTransactionsByHash(ctx context.Context, hashes []string) ([]model.MempoolEntry, error) {
	out := make([]model.MempoolEntry, 0, len(hashes))
	for _, h := range hashes {
		var hexStr string
		var insertedAt interface{}
		err := s.db.QueryRowContext(ctx, `SELECT hex, insertion_time FROM pending_transactions WHERE tx_hash=$1`, h).Scan(&hexStr, &insertedAt)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, errors.New(errors.ERR_STORAGE, "get_pending_transactions_by_hash failed", err)
		}
		tx, err := s.decode(hexStr)
		if err != nil {
			return nil, errors.New(errors.ERR_STORAGE, "get_pending_transactions_by_hash: decode failed", err)
		}
		out = append(out, model.MempoolEntry{TxHash: h, Tx: tx})
	}
	return out, nil
}

func (s *SQL) RemovePendingTransaction(ctx context.Context, hash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE tx_hash=$1`, hash); err != nil {
		return errors.New(errors.ERR_STORAGE, "remove_pending_transaction failed", err)
	}
	return nil
}

func (s *SQL) RemovePendingTransactionsByHash(ctx context.Context, hashes []string) error {
	for _, h := range hashes {
		if err := s.RemovePendingTransaction(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQL) RemovePendingSpentOutputs(ctx context.Context, keys []storage.UnspentKey) error {
	for _, k := range keys {
		if _, err := s.db.ExecContext(ctx, `
			DELETE FROM pending_transactions WHERE tx_hash IN (
				SELECT tx_hash FROM transactions WHERE tx_hash = $1
			)
		`, k.TxHash); err != nil {
			return errors.New(errors.ERR_STORAGE, "remove_pending_spent_outputs failed", err)
		}
	}
	return nil
}

func (s *SQL) RemoveAllPendingTransactions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_transactions`); err != nil {
		return errors.New(errors.ERR_STORAGE, "remove_all_pending_transactions failed", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	return s.db.Close()
}
