package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisAuthorityStore keeps a principal's granted authorities in Redis sets
// (key: authority:{principalID}). Authorities change rarely, so sets beat
// round-tripping a serialized list.
type RedisAuthorityStore struct {
	client *redis.Client
	keyFmt string
}

func NewRedisAuthorityStore(client *redis.Client) *RedisAuthorityStore {
	return &RedisAuthorityStore{client: client, keyFmt: "authority:%s"}
}

func (r *RedisAuthorityStore) key(principalID string) string {
	return fmt.Sprintf(r.keyFmt, principalID)
}

func (r *RedisAuthorityStore) GrantAuthority(ctx context.Context, principalID, authority string) error {
	return r.client.SAdd(ctx, r.key(principalID), authority).Err()
}

func (r *RedisAuthorityStore) RevokeAuthority(ctx context.Context, principalID, authority string) error {
	return r.client.SRem(ctx, r.key(principalID), authority).Err()
}

func (r *RedisAuthorityStore) ListAuthorities(ctx context.Context, principalID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(principalID)).Result()
}
