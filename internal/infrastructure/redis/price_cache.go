package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"timebid/internal/domain"
)

const snapshotTTL = 24 * time.Hour

// Writes carry the snapshot time in milliseconds; an older write never
// replaces a newer one.
var storeSnapshotScript = redis.NewScript(`
    local current = redis.call('HGET', KEYS[1], 'updated_ms')
    if current and tonumber(current) > tonumber(ARGV[2]) then
        return 0
    end
    redis.call('HSET', KEYS[1], 'data', ARGV[1], 'updated_ms', ARGV[2])
    redis.call('PEXPIRE', KEYS[1], ARGV[3])
    return 1
`)

type RedisPriceCache struct {
	client *redis.Client
}

func NewRedisPriceCache(client *redis.Client) *RedisPriceCache {
	return &RedisPriceCache{client: client}
}

func snapshotKey(auctionID string) string {
	return fmt.Sprintf("auction:%s:snapshot", auctionID)
}

func (r *RedisPriceCache) StoreSnapshot(ctx context.Context, snapshot *domain.PriceSnapshot) (bool, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return false, err
	}

	result, err := storeSnapshotScript.Run(ctx, r.client, []string{snapshotKey(snapshot.AuctionID)},
		string(data),
		snapshot.LastUpdated.UnixMilli(),
		snapshotTTL.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

func (r *RedisPriceCache) GetSnapshot(ctx context.Context, auctionID string) (*domain.PriceSnapshot, error) {
	data, err := r.client.HGet(ctx, snapshotKey(auctionID), "data").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.NewError(domain.ErrNotFound, "no snapshot for auction %s", auctionID)
		}
		return nil, err
	}

	var snapshot domain.PriceSnapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}
