package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hqpham/shop-checkout/internal/core/domain"
)

const (
	stockKeyPrefix   = "stock:"
	cartKeyPrefix    = "transient_cart:"
	sessionKeyPrefix = "session:"
	viewedKeyPrefix  = "viewed:"

	sessionTTL    = time.Hour
	viewedMaxSize = 20
)

// RedisStore is the volatile side of the system: the stock reservation ledger
// plus transient cart contents, session state and the recently-viewed list.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stockKey(productID int64) string {
	return stockKeyPrefix + strconv.FormatInt(productID, 10)
}

func cartKey(userID int64) string {
	return cartKeyPrefix + strconv.FormatInt(userID, 10)
}

// Initialize seeds the stock counter from the durable snapshot. Last writer
// wins, so re-running a warm-up is harmless.
func (r *RedisStore) Initialize(ctx context.Context, productID int64, quantity int) error {
	return r.client.Set(ctx, stockKey(productID), quantity, 0).Err()
}

// Reserve decrements every requested counter atomically, or none of them.
//
// Watch-verify-commit: all stock keys are WATCHed, the snapshot is read with
// MGET and verified against the requested quantities, then the decrements run
// in a MULTI/EXEC batch. EXEC is rejected by the server if any watched key
// changed after the snapshot, so no partial decrement can survive an aborted
// attempt.
func (r *RedisStore) Reserve(ctx context.Context, items map[int64]int) error {
	if len(items) == 0 {
		return fmt.Errorf("empty item set: %w", domain.ErrValidation)
	}

	products := make([]int64, 0, len(items))
	keys := make([]string, 0, len(items))
	for productID := range items {
		products = append(products, productID)
		keys = append(keys, stockKey(productID))
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		values, err := tx.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("snapshot read: %w", err)
		}

		for i, value := range values {
			available := 0
			if raw, ok := value.(string); ok {
				available, err = strconv.Atoi(raw)
				if err != nil {
					return fmt.Errorf("counter %s holds %q: %w", keys[i], raw, err)
				}
			}
			if available < items[products[i]] {
				return fmt.Errorf("product %d: have %d, want %d: %w",
					products[i], available, items[products[i]], domain.ErrInsufficientStock)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, productID := range products {
				pipe.DecrBy(ctx, keys[i], int64(items[productID]))
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("reservation batch invalidated: %w", domain.ErrConcurrencyConflict)
	}
	return err
}

// Restore is the compensating half of Reserve: it puts a reservation back
// after the downstream durable commit failed. Plain INCRBYs are sufficient
// here; additions cannot oversell.
func (r *RedisStore) Restore(ctx context.Context, items map[int64]int) error {
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for productID, quantity := range items {
			pipe.IncrBy(ctx, stockKey(productID), int64(quantity))
		}
		return nil
	})
	return err
}

func (r *RedisStore) Available(ctx context.Context, productID int64) (int, error) {
	value, err := r.client.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return value, err
}

// AddItem accumulates the user's in-progress selection in a hash keyed by user.
func (r *RedisStore) AddItem(ctx context.Context, userID, productID int64, quantity int) error {
	return r.client.HIncrBy(ctx, cartKey(userID), strconv.FormatInt(productID, 10), int64(quantity)).Err()
}

func (r *RedisStore) Get(ctx context.Context, userID int64) (map[int64]int, error) {
	raw, err := r.client.HGetAll(ctx, cartKey(userID)).Result()
	if err != nil {
		return nil, err
	}

	items := make(map[int64]int, len(raw))
	for field, value := range raw {
		productID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cart field %q: %w", field, err)
		}
		quantity, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("cart quantity %q: %w", value, err)
		}
		items[productID] = quantity
	}
	return items, nil
}

func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	return r.client.Del(ctx, cartKey(userID)).Err()
}

// StartSession writes the session hash and bounds it with a TTL.
func (r *RedisStore) StartSession(ctx context.Context, userID int64, device string) (domain.Session, error) {
	session := domain.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Device:    device,
		LoginTime: time.Now(),
	}

	key := sessionKeyPrefix + strconv.FormatInt(userID, 10)
	err := r.client.HSet(ctx, key, map[string]interface{}{
		"session_id": session.ID.String(),
		"user_id":    userID,
		"device":     device,
		"login_time": session.LoginTime.Format(time.RFC3339),
	}).Err()
	if err != nil {
		return domain.Session{}, err
	}

	if err := r.client.Expire(ctx, key, sessionTTL).Err(); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// ViewProduct pushes the product to the front of the viewed list, deduplicated
// and trimmed to the last viewedMaxSize entries.
func (r *RedisStore) ViewProduct(ctx context.Context, userID, productID int64) error {
	key := viewedKeyPrefix + strconv.FormatInt(userID, 10)
	member := strconv.FormatInt(productID, 10)

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, key, 1, member)
		pipe.LPush(ctx, key, member)
		pipe.LTrim(ctx, key, 0, viewedMaxSize-1)
		return nil
	})
	return err
}

func (r *RedisStore) RecentlyViewed(ctx context.Context, userID int64) ([]int64, error) {
	key := viewedKeyPrefix + strconv.FormatInt(userID, 10)

	raw, err := r.client.LRange(ctx, key, 0, viewedMaxSize-1).Result()
	if err != nil {
		return nil, err
	}

	viewed := make([]int64, 0, len(raw))
	for _, member := range raw {
		productID, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("viewed entry %q: %w", member, err)
		}
		viewed = append(viewed, productID)
	}
	return viewed, nil
}
