// ABOUTME: Redis-backed ChallengeStore for multi-instance deployments
// ABOUTME: Uses a compare-and-delete script for linearizable single-use consume

package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisChallengePrefix = "keygate:challenge:"

// consumeScript deletes the challenge only if it is still the exact record
// the caller verified, so two concurrent consumers cannot both succeed.
var consumeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisChallengeStore implements ChallengeStore on Redis. Records outlive
// their validity window by the window itself so a late consume can still be
// answered with an expired error instead of a generic miss.
type RedisChallengeStore struct {
	client *redis.Client
}

// NewRedisChallengeStore creates a ChallengeStore over the given Redis client.
func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

// Put stores the challenge, replacing any outstanding one for the key.
func (s *RedisChallengeStore) Put(ctx context.Context, ch *Challenge) error {
	retention := 2 * ch.ExpiresAt.Sub(ch.IssuedAt)
	if retention <= 0 {
		retention = 2 * DefaultChallengeTTL
	}
	if err := s.client.Set(ctx, redisChallengePrefix+ch.BoundPublicKey,
		encodeChallenge(ch), retention).Err(); err != nil {
		return fmt.Errorf("storing challenge in redis: %w", err)
	}
	return nil
}

// Get returns the outstanding challenge for the key.
func (s *RedisChallengeStore) Get(ctx context.Context, publicKey string) (*Challenge, error) {
	val, err := s.client.Get(ctx, redisChallengePrefix+publicKey).Result()
	if err == redis.Nil {
		return nil, ErrNoOutstandingChallenge
	}
	if err != nil {
		return nil, fmt.Errorf("reading challenge from redis: %w", err)
	}
	return decodeChallenge(publicKey, val)
}

// ConsumeIfCurrent atomically deletes the challenge if it is still current.
func (s *RedisChallengeStore) ConsumeIfCurrent(ctx context.Context, ch *Challenge) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client,
		[]string{redisChallengePrefix + ch.BoundPublicKey}, encodeChallenge(ch)).Int()
	if err != nil {
		return false, fmt.Errorf("consuming challenge in redis: %w", err)
	}
	return n == 1, nil
}

// Delete removes the outstanding challenge for the key, if any.
func (s *RedisChallengeStore) Delete(ctx context.Context, publicKey string) error {
	if err := s.client.Del(ctx, redisChallengePrefix+publicKey).Err(); err != nil {
		return fmt.Errorf("deleting challenge from redis: %w", err)
	}
	return nil
}

// encodeChallenge flattens a challenge into "value|issued|expires". The value
// is base64 and never contains '|', so the encoding is unambiguous and stable
// enough to double as the compare-and-delete token.
func encodeChallenge(ch *Challenge) string {
	return fmt.Sprintf("%s|%d|%d", ch.Value, ch.IssuedAt.Unix(), ch.ExpiresAt.Unix())
}

func decodeChallenge(publicKey, record string) (*Challenge, error) {
	parts := strings.Split(record, "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed challenge record %q", record)
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed challenge issue time: %w", err)
	}
	expires, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed challenge expiry: %w", err)
	}
	return &Challenge{
		Value:          parts[0],
		BoundPublicKey: publicKey,
		IssuedAt:       time.Unix(issued, 0),
		ExpiresAt:      time.Unix(expires, 0),
	}, nil
}
