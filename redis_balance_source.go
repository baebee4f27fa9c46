package drawcalc

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
)

// RedisBalanceSource reads balance histories kept in Redis sorted sets.
//
// Each user has one sorted set under BalanceKeyPrefix + lowercase hex
// address. Members are "<timestamp>:<balance>" scored by timestamp, so the
// balance at t is the highest-scored member with score <= t.
type RedisBalanceSource struct {
	redisClient *redis.Client
	recovery    *ErrorRecovery
	logger      Logger
	keyPrefix   string
}

// NewRedisBalanceSource creates a Redis-backed balance source
func NewRedisBalanceSource(redisClient *redis.Client, retry *RetryConfig, logger Logger) *RedisBalanceSource {
	if logger == nil {
		logger = &DefaultLogger{}
	}

	return &RedisBalanceSource{
		redisClient: redisClient,
		recovery:    newErrorRecovery(retry, logger),
		logger:      logger,
		keyPrefix:   BalanceKeyPrefix,
	}
}

// balanceKey returns the sorted set key of user
func (s *RedisBalanceSource) balanceKey(user common.Address) string {
	return s.keyPrefix + strings.ToLower(user.Hex())
}

// RecordBalance records that user held balance from timestamp onwards.
// A balance already recorded at timestamp is replaced. Timestamps above
// MaxBalanceTimestamp are rejected since scores are float64.
func (s *RedisBalanceSource) RecordBalance(ctx context.Context, user common.Address, timestamp uint64, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return ErrInvalidParameters.WithDetails("balance must be non-negative")
	}
	if timestamp > MaxBalanceTimestamp {
		return ErrInvalidParameters.WithDetailsf("timestamp %d exceeds %d", timestamp, uint64(MaxBalanceTimestamp))
	}

	key := s.balanceKey(user)
	score := strconv.FormatUint(timestamp, 10)
	member := fmt.Sprintf("%d:%s", timestamp, balance.String())

	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, score, score)
		pipe.ZAdd(ctx, key, &redis.Z{
			Score:  float64(timestamp),
			Member: member,
		})
		return nil
	})
	if err != nil {
		return ErrRedisConnectionFailed.WithDetailsf("record balance of %s", user.Hex()).WithCause(err)
	}
	return nil
}

// BalancesAt implements BalanceSource with one pipelined round trip
func (s *RedisBalanceSource) BalancesAt(ctx context.Context, user common.Address, timestamps []uint64) ([]*big.Int, error) {
	if len(timestamps) == 0 {
		return []*big.Int{}, nil
	}

	key := s.balanceKey(user)
	cmds := make([]*redis.StringSliceCmd, len(timestamps))

	err := s.recovery.ExecuteWithRetry(ctx, func() error {
		_, err := s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, ts := range timestamps {
				cmds[i] = pipe.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
					Min:   "-inf",
					Max:   strconv.FormatUint(ts, 10),
					Count: 1,
				})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, ErrBalanceSourceUnavailable.WithDetailsf("user=%s", user.Hex()).WithCause(err)
	}

	balances := make([]*big.Int, len(timestamps))
	for i, cmd := range cmds {
		members := cmd.Val()
		if len(members) == 0 {
			balances[i] = new(big.Int)
			continue
		}

		balance, err := parseBalanceMember(members[0])
		if err != nil {
			s.logger.Error("Corrupted balance entry: key=%s, member=%q", key, members[0])
			return nil, err
		}
		balances[i] = balance
	}

	return balances, nil
}

// parseBalanceMember parses a "<timestamp>:<balance>" member
func parseBalanceMember(member string) (*big.Int, error) {
	_, raw, ok := strings.Cut(member, ":")
	if !ok {
		return nil, ErrDeserializationFailed.WithDetailsf("balance member %q", member)
	}

	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok || balance.Sign() < 0 {
		return nil, ErrDeserializationFailed.WithDetailsf("balance member %q", member)
	}
	return balance, nil
}
