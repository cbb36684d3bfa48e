package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DarioJr13/invenbank-order-service/internal/models"

	"github.com/go-redis/redis/v8"
)

// offerTTL keeps cached offers short-lived; the database stays the
// authority on stock and the cache only serves the read-only pre-check.
const offerTTL = 30 * time.Second

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func offerKey(productID, supplierID int64) string {
	return fmt.Sprintf("offer:%d:%d", productID, supplierID)
}

// GetOffer retrieves a cached offer. A miss returns (nil, nil).
func (c *Client) GetOffer(ctx context.Context, productID, supplierID int64) (*models.Offer, error) {
	data, err := c.rdb.Get(ctx, offerKey(productID, supplierID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offer cache get failed: %w", err)
	}

	var offer models.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached offer: %w", err)
	}
	return &offer, nil
}

// SetOffer caches an offer with a short TTL
func (c *Client) SetOffer(ctx context.Context, offer *models.Offer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("failed to marshal offer: %w", err)
	}
	return c.rdb.Set(ctx, offerKey(offer.ProductID, offer.SupplierID), data, offerTTL).Err()
}

// InvalidateOffer drops a cached offer after its stock changed
func (c *Client) InvalidateOffer(ctx context.Context, productID, supplierID int64) error {
	return c.rdb.Del(ctx, offerKey(productID, supplierID)).Err()
}
