package model

// MiningCandidate is the TemplateBuilder's output (spec.md §4.7): a
// proposed block a miner can hash against, before a nonce has been found.
// It carries BlockHeader's previous hash, Merkle root, timestamp and
// difficulty (not its address, version, legacy flag or nonce), plus the ordered
// transaction set chosen for inclusion and the coinbase value it implies.
type MiningCandidate struct {
	PreviousHash string
	MerkleRoot   string
	Timestamp    uint32
	Difficulty   float64

	ID int64 // height this candidate would occupy if accepted

	// TxHashes lists, in the deterministic order chosen by the topological
	// selection pass, every non-coinbase transaction hash included.
	TxHashes []string
	Fees     int64 // sum of included transactions' fees, Smallest units
	Reward   int64 // chainparams.Reward(ID), Smallest units
}
