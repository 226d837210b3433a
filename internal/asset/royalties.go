package asset

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// StaticRoyaltyRegistry holds royalty schedules keyed by contract, with
// optional per-token overrides. Safe for concurrent use.
type StaticRoyaltyRegistry struct {
	mu         sync.RWMutex
	byContract map[common.Address][]Part
	byToken    map[string][]Part
}

// NewStaticRoyaltyRegistry creates an empty registry.
func NewStaticRoyaltyRegistry() *StaticRoyaltyRegistry {
	return &StaticRoyaltyRegistry{
		byContract: make(map[common.Address][]Part),
		byToken:    make(map[string][]Part),
	}
}

// SetContractRoyalties sets the schedule applied to every token of a
// contract.
func (r *StaticRoyaltyRegistry) SetContractRoyalties(contract common.Address, parts []Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byContract[contract] = append([]Part(nil), parts...)
}

// SetTokenRoyalties overrides the schedule for a single token.
func (r *StaticRoyaltyRegistry) SetTokenRoyalties(contract common.Address, tokenID *big.Int, parts []Part) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[tokenKey(contract, tokenID)] = append([]Part(nil), parts...)
}

// GetRoyalties returns the token override when present, otherwise the
// contract schedule. Unknown contracts owe no royalties.
func (r *StaticRoyaltyRegistry) GetRoyalties(contract common.Address, tokenID *big.Int) ([]Part, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if parts, ok := r.byToken[tokenKey(contract, tokenID)]; ok {
		return append([]Part(nil), parts...), nil
	}
	return append([]Part(nil), r.byContract[contract]...), nil
}

func tokenKey(contract common.Address, tokenID *big.Int) string {
	if tokenID == nil {
		return contract.Hex()
	}
	return contract.Hex() + "/" + tokenID.String()
}
