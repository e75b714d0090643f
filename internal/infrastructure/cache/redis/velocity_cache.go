package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"redemption-fraud-engine/internal/domain/fraud"
)

// HistoryRetention is how long redemptions stay in a user's sorted set
const HistoryRetention = 30 * 24 * time.Hour

// loadedMarker is stored alongside the history set once it holds the full window
const loadedMarker = "__loaded__"

// HistoryStore is the durable transaction store behind the cache
type HistoryStore interface {
	fraud.TransactionStore
	fraud.TransactionRecorder
}

// VelocityCache keeps each user's recent redemptions in a sorted set scored by time.
// It reads through to the durable store on a cold key and writes through on record.
type VelocityCache struct {
	client  *Client
	backing HistoryStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewVelocityCache creates a new velocity cache. backing may be nil.
func NewVelocityCache(client *Client, backing HistoryStore, logger *zap.Logger) *VelocityCache {
	return &VelocityCache{client: client, backing: backing, logger: logger.Named("velocity_cache"), now: time.Now}
}

func historyKey(userID uuid.UUID) string {
	return fmt.Sprintf("velocity:user:%s", userID.String())
}

func loadedKey(userID uuid.UUID) string {
	return fmt.Sprintf("velocity:user:%s:%s", userID.String(), loadedMarker)
}

// RecordTransaction writes the redemption to the durable store, then to the sorted set
func (c *VelocityCache) RecordTransaction(ctx context.Context, tx fraud.Transaction) error {
	if c.backing != nil {
		if err := c.backing.RecordTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}
	}

	member, err := encodeMember(tx)
	if err != nil {
		return err
	}

	key := historyKey(tx.UserID)
	cutoff := c.now().Add(-HistoryRetention).UnixMilli()

	// Use sorted set with timestamp as score for efficient range queries
	pipe := c.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(tx.Timestamp.UnixMilli()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, HistoryRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache transaction: %w", err)
	}
	return nil
}

// GetRecentTransactions returns redemptions of the last windowDays, newest first
func (c *VelocityCache) GetRecentTransactions(ctx context.Context, userID uuid.UUID, windowDays int) ([]fraud.Transaction, error) {
	window := time.Duration(windowDays) * 24 * time.Hour
	if window > HistoryRetention {
		return c.fromBacking(ctx, userID, windowDays)
	}

	loaded, err := c.client.rdb.Exists(ctx, loadedKey(userID)).Result()
	if err != nil {
		c.logger.Warn("history cache unavailable, reading durable store", zap.Error(err))
		return c.fromBacking(ctx, userID, windowDays)
	}
	if loaded == 0 {
		return c.warm(ctx, userID, windowDays)
	}

	minScore := c.now().Add(-window).UnixMilli()
	members, err := c.client.rdb.ZRevRangeByScore(ctx, historyKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(minScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		c.logger.Warn("history cache read failed, reading durable store", zap.Error(err))
		return c.fromBacking(ctx, userID, windowDays)
	}

	txs := make([]fraud.Transaction, 0, len(members))
	for _, m := range members {
		tx, err := decodeMember(m)
		if err != nil {
			c.logger.Warn("dropping undecodable history entry", zap.String("user_id", userID.String()), zap.Error(err))
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// warm loads the full retention window from the durable store into the sorted set
func (c *VelocityCache) warm(ctx context.Context, userID uuid.UUID, windowDays int) ([]fraud.Transaction, error) {
	retentionDays := int(HistoryRetention / (24 * time.Hour))
	all, err := c.fromBacking(ctx, userID, retentionDays)
	if err != nil {
		return nil, err
	}

	pipe := c.client.rdb.TxPipeline()
	key := historyKey(userID)
	for _, tx := range all {
		member, err := encodeMember(tx)
		if err != nil {
			continue
		}
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(tx.Timestamp.UnixMilli()), Member: member})
	}
	pipe.Expire(ctx, key, HistoryRetention)
	pipe.Set(ctx, loadedKey(userID), 1, HistoryRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to warm history cache", zap.String("user_id", userID.String()), zap.Error(err))
	}

	cutoff := c.now().AddDate(0, 0, -windowDays)
	out := make([]fraud.Transaction, 0, len(all))
	for _, tx := range all {
		if !tx.Timestamp.Before(cutoff) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (c *VelocityCache) fromBacking(ctx context.Context, userID uuid.UUID, windowDays int) ([]fraud.Transaction, error) {
	if c.backing == nil {
		return []fraud.Transaction{}, nil
	}
	return c.backing.GetRecentTransactions(ctx, userID, windowDays)
}

// Invalidate drops a user's cached history
func (c *VelocityCache) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return c.client.rdb.Del(ctx, historyKey(userID), loadedKey(userID)).Err()
}

func encodeMember(tx fraud.Transaction) (string, error) {
	raw, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction %s: %w", tx.ID, err)
	}
	return string(raw), nil
}

func decodeMember(member string) (fraud.Transaction, error) {
	var tx fraud.Transaction
	if err := json.Unmarshal([]byte(member), &tx); err != nil {
		return fraud.Transaction{}, err
	}
	if tx.ID == uuid.Nil {
		return fraud.Transaction{}, errors.New("history entry without id")
	}
	return tx, nil
}
