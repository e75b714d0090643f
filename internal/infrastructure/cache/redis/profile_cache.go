package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// DeviceBacking is the durable device store behind DeviceCache
type DeviceBacking interface {
	fraud.DeviceStore
	fraud.DeviceRecorder
}

// ProfileCache is a read-through cache in front of a profile store.
// Unknown users are not cached so that a newly created profile is seen at once.
type ProfileCache struct {
	client  *Client
	backing fraud.ProfileStore
	ttl     time.Duration
	logger  *zap.Logger
}

// NewProfileCache creates a profile cache
func NewProfileCache(client *Client, backing fraud.ProfileStore, ttl time.Duration, logger *zap.Logger) *ProfileCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ProfileCache{client: client, backing: backing, ttl: ttl, logger: logger.Named("profile_cache")}
}

func profileKey(userID uuid.UUID) string {
	return fmt.Sprintf("profile:user:%s", userID.String())
}

func (c *ProfileCache) GetUserProfile(ctx context.Context, userID uuid.UUID) (*fraud.UserProfile, error) {
	key := profileKey(userID)

	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p fraud.UserProfile
		if err := json.Unmarshal(raw, &p); err == nil {
			return &p, nil
		}
		c.logger.Warn("discarding undecodable cached profile", zap.String("user_id", userID.String()))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache unavailable", zap.Error(err))
	}

	p, err := c.backing.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(p); err == nil {
		if err := c.client.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Debug("failed to cache profile", zap.Error(err))
		}
	}
	return p, nil
}

// Invalidate drops a cached profile
func (c *ProfileCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.Redis().Del(ctx, profileKey(userID)).Err()
}

// DeviceCache caches device history per fingerprint and keeps a set of
// each user's known devices, as the device tracking in the velocity cache did.
type DeviceCache struct {
	client  *Client
	backing DeviceBacking
	ttl     time.Duration
	logger  *zap.Logger
}

// NewDeviceCache creates a new device cache
func NewDeviceCache(client *Client, backing DeviceBacking, ttl time.Duration, logger *zap.Logger) *DeviceCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DeviceCache{client: client, backing: backing, ttl: ttl, logger: logger.Named("device_cache")}
}

func deviceKey(fingerprint string) string {
	return fmt.Sprintf("devices:fp:%s", fingerprint)
}

func userDevicesKey(userID uuid.UUID) string {
	return fmt.Sprintf("devices:user:%s", userID.String())
}

func (c *DeviceCache) GetDeviceHistory(ctx context.Context, fingerprint string) ([]fraud.DeviceRecord, error) {
	key := deviceKey(fingerprint)

	raw, err := c.client.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []fraud.DeviceRecord
		if err := json.Unmarshal(raw, &records); err == nil {
			return records, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("device cache unavailable", zap.Error(err))
	}

	records, err := c.backing.GetDeviceHistory(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(records); err == nil {
		_ = c.client.rdb.Set(ctx, key, encoded, c.ttl).Err()
	}
	return records, nil
}

// RecordDevice writes through to the durable store and invalidates the fingerprint entry
func (c *DeviceCache) RecordDevice(ctx context.Context, userID uuid.UUID, record fraud.DeviceRecord) error {
	if err := c.backing.RecordDevice(ctx, userID, record); err != nil {
		return err
	}

	pipe := c.client.rdb.TxPipeline()
	pipe.Del(ctx, deviceKey(record.Fingerprint))
	pipe.SAdd(ctx, userDevicesKey(userID), record.Fingerprint)
	// Set expiration (30 days of device tracking)
	pipe.Expire(ctx, userDevicesKey(userID), 30*24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to update device cache", zap.Error(err))
	}
	return nil
}

// KnownDeviceCount returns the number of distinct devices recorded for a user recently
func (c *DeviceCache) KnownDeviceCount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return c.client.rdb.SCard(ctx, userDevicesKey(userID)).Result()
}
