package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// AssetCache 顾客资产汇总缓存
// 每次资产变更提交后失效，读路径未命中时回源数据库
type AssetCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAssetCache(client *redis.Client, ttl time.Duration) *AssetCache {
	return &AssetCache{client: client, ttl: ttl}
}

func assetKey(customerID int64) string {
	return fmt.Sprintf("asset:summary:customer:%d", customerID)
}

// Get 命中时把缓存内容反序列化到 dest
func (c *AssetCache) Get(ctx context.Context, customerID int64, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, assetKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *AssetCache) Set(ctx context.Context, customerID int64, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, assetKey(customerID), raw, c.ttl).Err()
}

func (c *AssetCache) Invalidate(ctx context.Context, customerID int64) error {
	return c.client.Del(ctx, assetKey(customerID)).Err()
}
