package drawcalc

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultHashFunc is Keccak-256
var DefaultHashFunc HashFunc = crypto.Keccak256

// PickMatch is the classification of one pick against a winning number
type PickMatch struct {
	Pick       uint64 `json:"pick"`        // Pick index
	MatchCount int    `json:"match_count"` // Number of matching windows
	Tier       int    `json:"tier"`        // MatchCardinality - MatchCount
	Winning    bool   `json:"winning"`     // Whether the tier has a configured prize
}

// UserSeed derives the per-user seed all pick values are mixed from
func UserSeed(user common.Address, hash HashFunc) []byte {
	return hash(user.Bytes())
}

// PickRandomNumber derives the candidate random number of a pick as
// hash(userSeed || uint256(pick)), read big-endian
func PickRandomNumber(userSeed []byte, pick uint64, hash HashFunc) *big.Int {
	var word [32]byte
	binary.BigEndian.PutUint64(word[24:], pick)
	return new(big.Int).SetBytes(hash(userSeed, word[:]))
}

// MatchPicks classifies every pick of one user for one draw. It fails with
// ErrPickOutOfRange as soon as a pick is not covered by totalUserPicks.
func MatchPicks(
	winning *big.Int,
	userSeed []byte,
	picks []uint64,
	totalUserPicks *big.Int,
	snapshot *SettingsSnapshot,
	hash HashFunc,
) ([]PickMatch, error) {
	if winning == nil || totalUserPicks == nil || snapshot == nil || hash == nil {
		return nil, ErrInvalidParameters.WithDetails("nil match input")
	}

	masks := snapshot.Masks()
	cardinality := int(snapshot.Settings.MatchCardinality)
	tiers := len(snapshot.Settings.Distributions)

	// the winning side of every window only has to be masked once
	winningWindows := make([]*big.Int, len(masks))
	for i, mask := range masks {
		winningWindows[i] = new(big.Int).And(winning, mask)
	}

	matches := make([]PickMatch, len(picks))
	window := new(big.Int)
	for i, pick := range picks {
		if !pickInRange(pick, totalUserPicks) {
			return nil, ErrPickOutOfRange.WithDetailsf("pick=%d, total_user_picks=%s", pick, totalUserPicks)
		}

		candidate := PickRandomNumber(userSeed, pick, hash)

		count := 0
		for w, mask := range masks {
			if window.And(candidate, mask).Cmp(winningWindows[w]) == 0 {
				count++
			}
		}

		tier := cardinality - count
		matches[i] = PickMatch{
			Pick:       pick,
			MatchCount: count,
			Tier:       tier,
			Winning:    tier < tiers,
		}
	}

	return matches, nil
}

// pickInRange reports pick < totalUserPicks
func pickInRange(pick uint64, totalUserPicks *big.Int) bool {
	if totalUserPicks.Sign() <= 0 {
		return false
	}
	if !totalUserPicks.IsUint64() {
		return true
	}
	return pick < totalUserPicks.Uint64()
}
