package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vanshika/upiscope/internal/domain"
)

// RedisOptions configures the Redis history index.
type RedisOptions struct {
	KeyPrefix string
	TTL       time.Duration
}

// Redis keeps one sorted set per sender, scored by timestamp in
// milliseconds, plus one key per transaction id for point reads.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "upiscope"
	}
	return &Redis{client: client, prefix: prefix, ttl: opts.TTL}
}

func (r *Redis) historyKey(senderID string) string {
	return r.prefix + ":history:" + senderID
}

func (r *Redis) txKey(id string) string {
	return r.prefix + ":tx:" + id
}

// Append stores the transaction and indexes it under its sender. Replaying
// an identical record re-indexes it and succeeds; a different record under an
// existing id fails with ErrDuplicate.
func (r *Redis) Append(ctx context.Context, tx domain.Transaction) error {
	if err := checkFinalized(tx); err != nil {
		return fmt.Errorf("append %s: %w", tx.ID, err)
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}

	created, err := r.client.SetNX(ctx, r.txKey(tx.ID), payload, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("store transaction %s: %w", tx.ID, err)
	}
	if !created {
		stored, err := r.client.Get(ctx, r.txKey(tx.ID)).Bytes()
		if err != nil {
			return fmt.Errorf("read transaction %s: %w", tx.ID, err)
		}
		if !bytes.Equal(stored, payload) {
			return fmt.Errorf("append %s: %w", tx.ID, ErrDuplicate)
		}
	}

	if err := r.index(ctx, tx, payload); err != nil {
		if created {
			// Without the index entry the record is invisible to HistoryFor,
			// so release the id for the retry.
			if delErr := r.client.Del(context.WithoutCancel(ctx), r.txKey(tx.ID)).Err(); delErr != nil {
				err = errors.Join(err, fmt.Errorf("release transaction %s: %w", tx.ID, delErr))
			}
		}
		return err
	}
	return nil
}

func (r *Redis) index(ctx context.Context, tx domain.Transaction, payload []byte) error {
	key := r.historyKey(tx.SenderID)
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(tx.Timestamp.UnixMilli()), Member: payload})
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("index transaction %s: %w", tx.ID, err)
	}
	return nil
}

// HistoryFor returns the sender's transactions inside window, oldest first.
func (r *Redis) HistoryFor(ctx context.Context, senderID string, window domain.TimeRange) ([]domain.Transaction, error) {
	members, err := r.client.ZRangeByScore(ctx, r.historyKey(senderID), &redis.ZRangeBy{
		Min: strconv.FormatInt(window.Start.UnixMilli(), 10),
		Max: strconv.FormatInt(window.End.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", senderID, err)
	}

	out := make([]domain.Transaction, 0, len(members))
	for _, m := range members {
		var tx domain.Transaction
		if err := json.Unmarshal([]byte(m), &tx); err != nil {
			return nil, fmt.Errorf("decode history for %s: %w", senderID, err)
		}
		if window.Contains(tx.Timestamp) {
			out = append(out, tx)
		}
	}
	// Scores have millisecond resolution; restore exact ordering.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Get returns a transaction by id.
func (r *Redis) Get(ctx context.Context, id string) (domain.Transaction, error) {
	raw, err := r.client.Get(ctx, r.txKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Transaction{}, ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return tx, nil
}

// Ping verifies connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
