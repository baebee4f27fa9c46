package drawcalc

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// picksArguments describes the pick blob: one ABI-encoded uint64[][],
// holding one list of pick indices per draw
var picksArguments = func() abi.Arguments {
	t, err := abi.NewType("uint64[][]", "", nil)
	if err != nil {
		panic("drawcalc: invalid pick ABI type: " + err.Error())
	}
	return abi.Arguments{{Type: t}}
}()

// EncodePicks encodes per-draw pick lists into the pick blob
func EncodePicks(picks [][]uint64) ([]byte, error) {
	if picks == nil {
		picks = [][]uint64{}
	}

	data, err := picksArguments.Pack(picks)
	if err != nil {
		return nil, ErrSerializationFailed.WithDetails("pack picks").WithCause(err)
	}
	return data, nil
}

// DecodePicks decodes the pick blob. Any blob that does not decode to a
// list of pick lists fails with ErrInvalidPickEncoding.
func DecodePicks(data []byte) ([][]uint64, error) {
	values, err := picksArguments.Unpack(data)
	if err != nil {
		return nil, ErrInvalidPickEncoding.WithDetails(err.Error()).WithCause(err)
	}
	if len(values) != 1 {
		return nil, ErrInvalidPickEncoding.WithDetailsf("expected 1 value, got %d", len(values))
	}

	picks, ok := values[0].([][]uint64)
	if !ok {
		return nil, ErrInvalidPickEncoding.WithDetailsf("unexpected decoded type %T", values[0])
	}
	return picks, nil
}

// ValidatePickOrder checks that picks are strictly ascending, which also
// rules out claiming the same pick twice
func ValidatePickOrder(picks []uint64) error {
	for i := 1; i < len(picks); i++ {
		if picks[i] <= picks[i-1] {
			return ErrPicksNotAscending.WithDetailsf("index=%d, pick=%d, previous=%d", i, picks[i], picks[i-1])
		}
	}
	return nil
}
