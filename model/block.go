package model

import "github.com/shopspring/decimal"

// BlockHeader is the Go-native decoding of the canonical wire layout in
// spec.md §3: version (legacy blocks omit it), previous_hash, address,
// merkle_root, timestamp, difficulty and nonce. blockcodec.Serialize and
// blockcodec.Parse convert between this struct and the fixed-width byte
// layout; nothing outside that package should assume byte offsets.
type BlockHeader struct {
	// Legacy is true for 138-byte v1 headers (64-byte address, no version
	// byte), false for v2 headers (33-byte compressed address, 1-byte
	// version prefix) — spec.md §4.3's length-based disambiguation.
	Legacy bool
	// Version is only meaningful when !Legacy.
	Version byte

	PreviousHash string // 64 hex chars (32 bytes); "" for the genesis block
	Address      string // 128 hex chars (legacy) or 66 hex chars (v2)
	MerkleRoot   string // 64 hex chars

	Timestamp  uint32
	Difficulty float64
	Nonce      uint32
}

// Block is the full accepted block as held in storage: the header plus the
// derived attributes spec.md §3 lists (id, hash, reward, content).
type Block struct {
	Header BlockHeader

	ID      int64  // height, monotonic from 0
	Hash    string // sha256 hex digest of the raw serialized content
	Content string // hex of the serialized header bytes

	Reward decimal.Decimal
}

// IsGenesis reports whether this is the chain's height-0 block.
func (b *Block) IsGenesis() bool {
	return b.ID == 0
}
