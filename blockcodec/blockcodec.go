// Package blockcodec implements the deterministic header serialization
// spec.md §4.3 and §3 describe: a fixed-width byte layout with two
// historical variants disambiguated purely by total length. Grounded on
// the teacher's model.Block byte handling (model/Block.go: binary.LittleEndian
// field-at-a-time encode/decode into a bytes.Buffer) adapted from BSV's
// 80-byte header to this chain's variable-length-address layout.
package blockcodec

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ledgerd/node/model"
)

const (
	hashLen         = 32
	legacyAddrLen   = 64
	v2AddrLen       = 33
	versionLen      = 1
	merkleLen       = 32
	timestampLen    = 4
	difficultyLen   = 2
	nonceLen        = 4

	// LegacyHeaderLen is the exact byte length of a v1 header: no version
	// byte, 64-byte address. previous_hash(32) + address(64) + merkle(32)
	// + timestamp(4) + difficulty(2) + nonce(4) = 138.
	LegacyHeaderLen = hashLen + legacyAddrLen + merkleLen + timestampLen + difficultyLen + nonceLen

	// V2HeaderLen is the exact byte length of a v2 header: 1-byte version
	// prefix, 33-byte compressed address. 1+32+33+32+4+2+4 = 108.
	V2HeaderLen = versionLen + hashLen + v2AddrLen + merkleLen + timestampLen + difficultyLen + nonceLen
)

// Serialize encodes a BlockHeader into its canonical byte form. Legacy
// headers omit the version byte and require a 64-byte address; v2 headers
// always carry the version byte and require a 33-byte address.
func Serialize(h model.BlockHeader) ([]byte, error) {
	prevHash, err := decodeFixed(h.PreviousHash, hashLen, "previous_hash")
	if err != nil {
		return nil, err
	}
	merkle, err := decodeFixed(h.MerkleRoot, merkleLen, "merkle_root")
	if err != nil {
		return nil, err
	}

	addrLen := v2AddrLen
	if h.Legacy {
		addrLen = legacyAddrLen
	}
	addr, err := decodeFixed(h.Address, addrLen, "address")
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	if !h.Legacy {
		buf.WriteByte(h.Version)
	}
	buf.Write(prevHash)
	buf.Write(addr)
	buf.Write(merkle)

	var tsBytes [timestampLen]byte
	binary.LittleEndian.PutUint32(tsBytes[:], h.Timestamp)
	buf.Write(tsBytes[:])

	var diffBytes [difficultyLen]byte
	binary.LittleEndian.PutUint16(diffBytes[:], uint16(roundToTenths(h.Difficulty)))
	buf.Write(diffBytes[:])

	var nonceBytes [nonceLen]byte
	binary.LittleEndian.PutUint32(nonceBytes[:], h.Nonce)
	buf.Write(nonceBytes[:])

	return buf.Bytes(), nil
}

// Parse decodes raw header bytes, disambiguating the legacy/v2 layout by
// total length alone (spec.md §4.3): exactly LegacyHeaderLen bytes is a v1
// header, exactly V2HeaderLen bytes is a v2 header, anything else is
// rejected.
func Parse(raw []byte) (model.BlockHeader, error) {
	switch len(raw) {
	case LegacyHeaderLen:
		return parseWithAddrLen(raw, legacyAddrLen, true)
	case V2HeaderLen:
		return parseWithAddrLen(raw[versionLen:], v2AddrLen, false, raw[0])
	default:
		return model.BlockHeader{}, fmt.Errorf("blockcodec: invalid header length %d (want %d or %d)", len(raw), LegacyHeaderLen, V2HeaderLen)
	}
}

func parseWithAddrLen(body []byte, addrLen int, legacy bool, version ...byte) (model.BlockHeader, error) {
	want := hashLen + addrLen + merkleLen + timestampLen + difficultyLen + nonceLen
	if len(body) != want {
		return model.BlockHeader{}, fmt.Errorf("blockcodec: malformed body length %d (want %d)", len(body), want)
	}

	off := 0
	prevHash := body[off : off+hashLen]
	off += hashLen
	addr := body[off : off+addrLen]
	off += addrLen
	merkle := body[off : off+merkleLen]
	off += merkleLen
	timestamp := binary.LittleEndian.Uint32(body[off : off+timestampLen])
	off += timestampLen
	difficultyTenths := binary.LittleEndian.Uint16(body[off : off+difficultyLen])
	off += difficultyLen
	nonce := binary.LittleEndian.Uint32(body[off : off+nonceLen])

	h := model.BlockHeader{
		Legacy:       legacy,
		PreviousHash: hex.EncodeToString(prevHash),
		Address:      hex.EncodeToString(addr),
		MerkleRoot:   hex.EncodeToString(merkle),
		Timestamp:    timestamp,
		Difficulty:   float64(difficultyTenths) / 10,
		Nonce:        nonce,
	}
	if len(version) == 1 {
		h.Version = version[0]
	}
	return h, nil
}

// ComputeHash returns the sha256 hex digest of a header's serialized form —
// spec.md §3's "hash = SHA-256(content)".
func ComputeHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func decodeFixed(s string, n int, field string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("blockcodec: %s is not valid hex: %w", field, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("blockcodec: %s has length %d, want %d", field, len(b), n)
	}
	return b, nil
}

func roundToTenths(d float64) int64 {
	return int64(d*10 + 0.5)
}
