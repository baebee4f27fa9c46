package drawcalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePicks(t *testing.T) {
	tests := []struct {
		name  string
		picks [][]uint64
	}{
		{"single_draw", [][]uint64{{0, 1, 2}}},
		{"several_draws", [][]uint64{{1, 5}, {}, {3}}},
		{"large_indices", [][]uint64{{^uint64(0) - 1, ^uint64(0)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := mustEncodePicks(t, tt.picks)

			decoded, err := DecodePicks(data)
			require.NoError(t, err)
			require.Len(t, decoded, len(tt.picks))
			for i := range tt.picks {
				assert.ElementsMatch(t, tt.picks[i], decoded[i], "draw %d", i)
			}
		})
	}
}

func TestEncodePicksEmpty(t *testing.T) {
	data := mustEncodePicks(t, nil)

	decoded, err := DecodePicks(data)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecodePicksInvalid(t *testing.T) {
	valid := mustEncodePicks(t, [][]uint64{{1, 2, 3}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xde, 0xad, 0xbe, 0xef}},
		{"truncated", valid[:len(valid)-32]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			picks, err := DecodePicks(tt.data)
			assert.Nil(t, picks)
			assert.ErrorIs(t, err, ErrInvalidPickEncoding)
		})
	}
}

func TestValidatePickOrder(t *testing.T) {
	tests := []struct {
		name    string
		picks   []uint64
		wantErr bool
	}{
		{"empty", nil, false},
		{"single", []uint64{4}, false},
		{"ascending", []uint64{0, 2, 9}, false},
		{"duplicate", []uint64{1, 1}, true},
		{"descending", []uint64{3, 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePickOrder(tt.picks)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPicksNotAscending)
				return
			}
			assert.NoError(t, err)
		})
	}
}
