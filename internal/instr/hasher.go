package instr

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisHashSeed = "PerpCore:genesis:v1"

// StateHasher chains deterministic state hashes across applied
// instructions: hash[N] = SHA-256(prev_hash || sequence || digest).
// Two replays of the same instruction sequence produce the same chain.
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with the genesis hash.
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(genesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash folds one state digest into the chain.
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	h.prevHash = hash

	return hash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}
