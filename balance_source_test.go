package drawcalc

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBalanceSource(t *testing.T) {
	ctx := context.Background()
	source := NewMemoryBalanceSource()

	require.NoError(t, source.RecordBalance(testUser, 200, big.NewInt(50)))
	require.NoError(t, source.RecordBalance(testUser, 100, big.NewInt(10)))
	require.NoError(t, source.RecordBalance(testUser, 300, big.NewInt(0)))
	// 同一时间戳覆盖
	require.NoError(t, source.RecordBalance(testUser, 200, big.NewInt(20)))

	assert.ErrorIs(t, source.RecordBalance(testUser, 400, big.NewInt(-1)), ErrInvalidParameters)

	balances, err := source.BalancesAt(ctx, testUser, []uint64{50, 100, 150, 200, 250, 300, 1000})
	require.NoError(t, err)

	expected := []int64{0, 10, 10, 20, 20, 0, 0}
	require.Len(t, balances, len(expected))
	for i, want := range expected {
		assert.Equal(t, want, balances[i].Int64(), "timestamp index %d", i)
	}

	other, err := source.BalancesAt(ctx, common.HexToAddress("0x01"), []uint64{1000})
	require.NoError(t, err)
	assert.Zero(t, other[0].Sign())

	// 返回值是副本
	balances[1].SetInt64(999)
	again, err := source.BalancesAt(ctx, testUser, []uint64{100})
	require.NoError(t, err)
	assert.Equal(t, int64(10), again[0].Int64())
}

func TestRedisBalanceSourceBalancesAt(t *testing.T) {
	ctx := context.Background()
	key := BalanceKeyPrefix + "0x8ba1f109551bd432803012645ac136ddd64dba72"

	tests := []struct {
		name       string
		timestamps []uint64
		setupMock  func(mock redismock.ClientMock)
		expected   []int64
		wantErr    error
	}{
		{
			name:       "checkpoints_found",
			timestamps: []uint64{100, 250},
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "100", Count: 1}).
					SetVal([]string{"90:1000"})
				mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "250", Count: 1}).
					SetVal([]string{"200:2500"})
			},
			expected: []int64{1000, 2500},
		},
		{
			name:       "no_checkpoint_is_zero",
			timestamps: []uint64{5},
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "5", Count: 1}).
					SetVal([]string{})
			},
			expected: []int64{0},
		},
		{
			name:       "corrupted_member",
			timestamps: []uint64{100},
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "100", Count: 1}).
					SetVal([]string{"garbage"})
			},
			wantErr: ErrDeserializationFailed,
		},
		{
			name:       "redis_error",
			timestamps: []uint64{100},
			setupMock: func(mock redismock.ClientMock) {
				mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "100", Count: 1}).
					SetErr(errors.New("permission denied"))
			},
			wantErr: ErrBalanceSourceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			source := NewRedisBalanceSource(db, &RetryConfig{Attempts: 0, Interval: time.Millisecond}, NewSilentLogger())

			tt.setupMock(mock)

			balances, err := source.BalancesAt(ctx, testUser, tt.timestamps)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Len(t, balances, len(tt.expected))
				for i, want := range tt.expected {
					assert.Equal(t, want, balances[i].Int64())
				}
			}

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRedisBalanceSourceEmptyLookup(t *testing.T) {
	db, mock := redismock.NewClientMock()
	source := NewRedisBalanceSource(db, nil, NewSilentLogger())

	balances, err := source.BalancesAt(context.Background(), testUser, nil)
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBalanceSourceRecordBalance(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	source := NewRedisBalanceSource(db, nil, NewSilentLogger())
	key := BalanceKeyPrefix + "0x8ba1f109551bd432803012645ac136ddd64dba72"

	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "1000", "1000").SetVal(0)
	mock.ExpectZAdd(key, &redis.Z{Score: 1000, Member: "1000:5000000000000000000"}).SetVal(1)
	mock.ExpectTxPipelineExec()
	require.NoError(t, source.RecordBalance(ctx, testUser, 1000, e18(5)))

	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "2000", "2000").SetErr(errors.New("connection refused"))
	assert.ErrorIs(t, source.RecordBalance(ctx, testUser, 2000, big.NewInt(1)), ErrRedisConnectionFailed)

	assert.ErrorIs(t, source.RecordBalance(ctx, testUser, 3000, nil), ErrInvalidParameters)
	assert.ErrorIs(t, source.RecordBalance(ctx, testUser, MaxBalanceTimestamp+1, big.NewInt(1)), ErrInvalidParameters)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisBalanceSourceRecordBalanceReplacesTimestamp(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	source := NewRedisBalanceSource(db, nil, NewSilentLogger())
	key := BalanceKeyPrefix + "0x8ba1f109551bd432803012645ac136ddd64dba72"

	// 同一时间戳写两次, 第二次先删除旧成员
	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "100", "100").SetVal(0)
	mock.ExpectZAdd(key, &redis.Z{Score: 100, Member: "100:9"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	mock.ExpectTxPipeline()
	mock.ExpectZRemRangeByScore(key, "100", "100").SetVal(1)
	mock.ExpectZAdd(key, &redis.Z{Score: 100, Member: "100:10"}).SetVal(1)
	mock.ExpectTxPipelineExec()

	mock.ExpectZRevRangeByScore(key, &redis.ZRangeBy{Min: "-inf", Max: "100", Count: 1}).SetVal([]string{"100:10"})

	require.NoError(t, source.RecordBalance(ctx, testUser, 100, big.NewInt(9)))
	require.NoError(t, source.RecordBalance(ctx, testUser, 100, big.NewInt(10)))

	balances, err := source.BalancesAt(ctx, testUser, []uint64{100})
	require.NoError(t, err)
	require.Len(t, balances, 1)

	memory := NewMemoryBalanceSource()
	require.NoError(t, memory.RecordBalance(testUser, 100, big.NewInt(9)))
	require.NoError(t, memory.RecordBalance(testUser, 100, big.NewInt(10)))
	expected, err := memory.BalancesAt(ctx, testUser, []uint64{100})
	require.NoError(t, err)

	assert.Equal(t, expected[0].String(), balances[0].String())
	assert.Equal(t, "10", balances[0].String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseBalanceMember(t *testing.T) {
	balance, err := parseBalanceMember("1700000000:123456789012345678901234567890")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", balance.String())

	for _, member := range []string{"", "100", "100:", "100:-1", "100:abc"} {
		_, err := parseBalanceMember(member)
		assert.ErrorIs(t, err, ErrDeserializationFailed, "member %q", member)
	}
}
