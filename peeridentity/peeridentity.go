// Package peeridentity implements node identity and request signing, per
// spec.md §4.9: a long-lived ECDSA P-256 keypair, node_id as the hex
// public key, and canonical-JSON signing/verification of the header
// payload shape every authenticated endpoint checks. Grounded on the
// teacher's own preference for small stdlib-backed primitives at the
// crypto boundary (teranode leaves signature schemes to bsvutil/libsv
// rather than hand-rolling a wire format); this module has no such
// library in the pack for P-256 specifically, so it calls crypto/ecdsa
// directly, matching spec.md §1's framing of ECDSA sign/verify as an
// assumed primitive rather than something to build.
package peeridentity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math"
	"math/big"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ledgerd/node/errors"
)

// ReplayWindow is the maximum allowed clock skew between a signed
// request's timestamp and now, per spec.md §4.9.
const ReplayWindow = 300 * time.Second

// Identity holds this node's long-lived keypair. NodeID is the stable
// identity every peer record and reputation entry is keyed by.
type Identity struct {
	PrivateKey *ecdsa.PrivateKey
	NodeID     string // hex(pubkey)
	PubKeyHex  string
}

// Generate creates a fresh P-256 identity.
func Generate() (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.New(errors.ERR_UNKNOWN, "peeridentity: key generation failed", err)
	}
	return fromKey(key), nil
}

// LoadOrCreate reads a PEM-encoded EC private key from path, creating and
// persisting a fresh one if the file does not exist, per spec.md §6.3's
// "long-lived ECDSA keypair on disk."
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := parsePEM(data)
		if err != nil {
			return nil, err
		}
		return fromKey(key), nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.New(errors.ERR_STORAGE, "peeridentity: read key file failed", err)
	}

	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := persistPEM(path, id.PrivateKey); err != nil {
		return nil, err
	}
	return id, nil
}

func fromKey(key *ecdsa.PrivateKey) *Identity {
	pub := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	pubHex := hex.EncodeToString(pub)
	return &Identity{
		PrivateKey: key,
		NodeID:     pubHex,
		PubKeyHex:  pubHex,
	}
}

func parsePEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: no PEM block in key file")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: parse EC key failed", err)
	}
	return key, nil
}

func persistPEM(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return errors.New(errors.ERR_UNKNOWN, "peeridentity: marshal key failed", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return errors.New(errors.ERR_STORAGE, "peeridentity: write key file failed", err)
	}
	return nil
}

// PublicKeyFromHex decodes a hex-encoded, uncompressed P-256 public key as
// advertised in a peer's node_id/pubkey header.
func PublicKeyFromHex(pubHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: invalid pubkey hex", err)
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: malformed pubkey")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// NewNonce returns a fresh hex-encoded request nonce.
func NewNonce() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// CanonicalPayload builds the exact JSON object spec.md §4.9 signs: the
// raw request body, the unix timestamp, the hex nonce, and every domain
// header the caller binds in, numeric-looking values parsed back to
// numbers. Keys are sorted and the result carries no extraneous
// whitespace, matching spec.md's "canonical JSON" definition.
func CanonicalPayload(body string, timestamp int64, nonce string, domainHeaders map[string]string) ([]byte, error) {
	obj := map[string]interface{}{
		"body":      body,
		"timestamp": timestamp,
		"nonce":     nonce,
	}
	for k, v := range domainHeaders {
		obj[k] = coerceNumeric(v)
	}
	return marshalSorted(obj)
}

// coerceNumeric parses v back to an int64 or float64 when it looks
// numeric, per spec.md §4.9's "numeric x-denaro-* values are parsed back
// to numbers before signing verification." Non-numeric values pass
// through as strings.
func coerceNumeric(v string) interface{} {
	var i int64
	if n, err := fmt.Sscanf(v, "%d", &i); err == nil && n == 1 && fmt.Sprintf("%d", i) == v {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return v
}

// marshalSorted produces JSON with object keys in sorted order and no
// insignificant whitespace, independent of Go map iteration order.
func marshalSorted(obj map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, errors.New(errors.ERR_UNKNOWN, "peeridentity: marshal key failed", err)
		}
		vb, err := json.Marshal(obj[k])
		if err != nil {
			return nil, errors.New(errors.ERR_UNKNOWN, "peeridentity: marshal value failed", err)
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Sign produces a hex-encoded ECDSA signature over sha256(payload).
func (id *Identity) Sign(payload []byte) (string, error) {
	digest := sha256.Sum256(payload)
	r, s, err := ecdsa.Sign(rand.Reader, id.PrivateKey, digest[:])
	if err != nil {
		return "", errors.New(errors.ERR_UNKNOWN, "peeridentity: sign failed", err)
	}
	sig := append(r.Bytes(), s.Bytes()...)
	return hex.EncodeToString(sig), nil
}

// Verify checks a hex-encoded signature against payload under pubKey.
// Returns false (not an error) for a well-formed but non-matching
// signature; callers treat that the same as any other auth failure.
func Verify(pubKey *ecdsa.PublicKey, payload []byte, sigHex string) (bool, error) {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: invalid signature hex", err)
	}
	half := len(sig) / 2
	if half == 0 || len(sig)%2 != 0 {
		return false, errors.New(errors.ERR_INVALID_ARGUMENT, "peeridentity: malformed signature length")
	}
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	digest := sha256.Sum256(payload)
	return ecdsa.Verify(pubKey, digest[:], r, s), nil
}

// WithinReplayWindow reports whether timestamp (unix seconds) is within
// ReplayWindow of now, per spec.md §4.9.
func WithinReplayWindow(timestamp, now int64) bool {
	delta := now - timestamp
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Second <= ReplayWindow
}
