package drawcalc

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testUser = common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	testTime = time.Unix(1700000000, 0).UTC()
)

// e18 returns n * 10^18
func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fixedPointOne)
}

// testSettings is a two-window configuration: 60% for a full match,
// 10% for one matching window
func testSettings() *DrawSettings {
	return &DrawSettings{
		BitRangeSize:     4,
		MatchCardinality: 2,
		PickCost:         big.NewInt(1),
		Distributions:    []uint64{600_000_000_000_000_000, 100_000_000_000_000_000},
	}
}

// candidateHash returns a HashFunc whose pick values are taken from
// candidates; picks without an entry hash to zero. Seeds use Keccak-256.
func candidateHash(candidates map[uint64]*big.Int) HashFunc {
	return func(data ...[]byte) []byte {
		if len(data) == 2 && len(data[1]) == 32 {
			out := make([]byte, 32)
			if v, ok := candidates[binary.BigEndian.Uint64(data[1][24:])]; ok {
				v.FillBytes(out)
			}
			return out
		}
		return crypto.Keccak256(data...)
	}
}

func mustEncodePicks(t *testing.T, picks [][]uint64) []byte {
	t.Helper()

	data, err := EncodePicks(picks)
	require.NoError(t, err)
	return data
}

func newTestManager(t *testing.T, settings *DrawSettings) *SettingsManager {
	t.Helper()

	manager := NewSettingsManager(nil, NewSilentLogger())
	if settings != nil {
		_, err := manager.SetDrawSettings(context.Background(), settings)
		require.NoError(t, err)
	}
	return manager
}

// spyBalanceSource counts lookups and serves fixed balances
type spyBalanceSource struct {
	mu       sync.Mutex
	calls    int
	balances func(n int) []*big.Int
	err      error
}

func (s *spyBalanceSource) BalancesAt(ctx context.Context, user common.Address, timestamps []uint64) ([]*big.Int, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	if s.balances != nil {
		return s.balances(len(timestamps)), nil
	}

	out := make([]*big.Int, len(timestamps))
	for i := range out {
		out[i] = big.NewInt(10)
	}
	return out, nil
}

func (s *spyBalanceSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
