package drawcalc

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserSeed(t *testing.T) {
	seed := UserSeed(testUser, DefaultHashFunc)
	assert.Equal(t, crypto.Keccak256(testUser.Bytes()), seed)
	assert.Len(t, seed, 32)
}

func TestPickRandomNumber(t *testing.T) {
	seed := UserSeed(testUser, DefaultHashFunc)

	// hash(seed || uint256(pick))
	expected := new(big.Int).SetBytes(crypto.Keccak256(seed, math.U256Bytes(big.NewInt(7))))
	assert.Equal(t, 0, expected.Cmp(PickRandomNumber(seed, 7, DefaultHashFunc)))

	assert.NotEqual(t, 0, PickRandomNumber(seed, 7, DefaultHashFunc).Cmp(PickRandomNumber(seed, 8, DefaultHashFunc)))
}

func TestMatchPicks(t *testing.T) {
	snapshot := NewSettingsSnapshot(1, testSettings(), testTime)
	winning := big.NewInt(0x21)
	seed := UserSeed(testUser, DefaultHashFunc)

	hash := candidateHash(map[uint64]*big.Int{
		0: big.NewInt(0x21),  // 两个窗口都命中
		1: big.NewInt(0x31),  // 仅低位窗口命中
		2: big.NewInt(0x20),  // 仅高位窗口命中
		3: big.NewInt(0x100), // 窗口之外的位不参与比较
	})

	matches, err := MatchPicks(winning, seed, []uint64{0, 1, 2, 3, 4}, big.NewInt(10), snapshot, hash)
	require.NoError(t, err)
	require.Len(t, matches, 5)

	expected := []PickMatch{
		{Pick: 0, MatchCount: 2, Tier: 0, Winning: true},
		{Pick: 1, MatchCount: 1, Tier: 1, Winning: true},
		{Pick: 2, MatchCount: 1, Tier: 1, Winning: true},
		{Pick: 3, MatchCount: 0, Tier: 2, Winning: false},
		{Pick: 4, MatchCount: 0, Tier: 2, Winning: false},
	}
	assert.Equal(t, expected, matches)
}

func TestMatchPicksConstantHash(t *testing.T) {
	snapshot := NewSettingsSnapshot(1, testSettings(), testTime)

	// 所有 pick 都得到同一个与中奖号码不同的值
	constant := func(data ...[]byte) []byte {
		out := make([]byte, 32)
		out[31] = 0xee
		return out
	}

	matches, err := MatchPicks(big.NewInt(0x21), []byte("seed"), []uint64{0, 1, 2}, big.NewInt(3), snapshot, constant)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Zero(t, m.MatchCount)
		assert.False(t, m.Winning)
	}
}

func TestMatchPicksErrors(t *testing.T) {
	snapshot := NewSettingsSnapshot(1, testSettings(), testTime)
	seed := UserSeed(testUser, DefaultHashFunc)

	tests := []struct {
		name     string
		picks    []uint64
		total    *big.Int
		snapshot *SettingsSnapshot
		expected error
	}{
		{"pick_equal_to_total", []uint64{0, 3}, big.NewInt(3), snapshot, ErrPickOutOfRange},
		{"no_picks_owned", []uint64{0}, big.NewInt(0), snapshot, ErrPickOutOfRange},
		{"nil_total", []uint64{0}, nil, snapshot, ErrInvalidParameters},
		{"nil_snapshot", []uint64{0}, big.NewInt(3), nil, ErrInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := MatchPicks(big.NewInt(1), seed, tt.picks, tt.total, tt.snapshot, DefaultHashFunc)
			assert.Nil(t, matches)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestPickInRange(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 100)

	assert.True(t, pickInRange(0, big.NewInt(1)))
	assert.False(t, pickInRange(1, big.NewInt(1)))
	assert.False(t, pickInRange(0, big.NewInt(0)))
	assert.True(t, pickInRange(^uint64(0), huge))
}
