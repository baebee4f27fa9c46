package drawcalc

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// BalanceCheckpoint is a user's balance from Timestamp onwards
type BalanceCheckpoint struct {
	Timestamp uint64
	Balance   *big.Int
}

// MemoryBalanceSource answers balance lookups from in-memory checkpoints.
// The balance at t is the latest checkpoint at or before t, or zero.
type MemoryBalanceSource struct {
	mu          sync.RWMutex
	checkpoints map[common.Address][]BalanceCheckpoint
}

// NewMemoryBalanceSource creates an empty in-memory balance source
func NewMemoryBalanceSource() *MemoryBalanceSource {
	return &MemoryBalanceSource{
		checkpoints: make(map[common.Address][]BalanceCheckpoint),
	}
}

// RecordBalance records that user held balance from timestamp onwards,
// replacing any checkpoint at the same timestamp
func (s *MemoryBalanceSource) RecordBalance(user common.Address, timestamp uint64, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return ErrInvalidParameters.WithDetails("balance must be non-negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cps := s.checkpoints[user]
	i := sort.Search(len(cps), func(i int) bool { return cps[i].Timestamp >= timestamp })
	cp := BalanceCheckpoint{Timestamp: timestamp, Balance: new(big.Int).Set(balance)}

	if i < len(cps) && cps[i].Timestamp == timestamp {
		cps[i] = cp
	} else {
		cps = append(cps, BalanceCheckpoint{})
		copy(cps[i+1:], cps[i:])
		cps[i] = cp
	}
	s.checkpoints[user] = cps
	return nil
}

// BalancesAt implements BalanceSource
func (s *MemoryBalanceSource) BalancesAt(ctx context.Context, user common.Address, timestamps []uint64) ([]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cps := s.checkpoints[user]
	balances := make([]*big.Int, len(timestamps))
	for i, ts := range timestamps {
		// 第一个晚于 ts 的检查点
		j := sort.Search(len(cps), func(k int) bool { return cps[k].Timestamp > ts })
		if j == 0 {
			balances[i] = new(big.Int)
			continue
		}
		balances[i] = new(big.Int).Set(cps[j-1].Balance)
	}
	return balances, nil
}
