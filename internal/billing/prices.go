package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const priceCachePrefix = "price:filter:"

// Prices resolves per-filter coin prices from the app_settings table, keys
// `<dim>_filter_price` in the `filter` group. Settings are owned by the
// admin/settings collaborator and read-mostly, so lookups go through a short
// Redis cache. A dimension with no configured row costs 0.
type Prices struct {
	db  *sql.DB
	rdb *redis.Client
	ttl time.Duration
}

// NewPrices creates a price book. rdb may be nil, in which case every lookup
// hits the database.
func NewPrices(db *sql.DB, rdb *redis.Client, ttl time.Duration) *Prices {
	return &Prices{db: db, rdb: rdb, ttl: ttl}
}

// Price returns the coin price for one filter dimension.
func (p *Prices) Price(ctx context.Context, dim string) (int64, error) {
	key := priceCachePrefix + dim

	if p.rdb != nil {
		cached, err := p.rdb.Get(ctx, key).Result()
		if err == nil {
			if price, perr := strconv.ParseInt(cached, 10, 64); perr == nil {
				return price, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// Cache trouble is not a billing failure; fall through to the DB.
			log.Printf("[billing] price cache read %s: %v", key, err)
		}
	}

	var raw string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM app_settings WHERE key = $1 AND "group" = 'filter'`,
		dim+"_filter_price").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("billing: load price for %s: %w", dim, err)
	}

	price, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("billing: malformed price %q for %s: %w", raw, dim, err)
	}

	if p.rdb != nil {
		if err := p.rdb.Set(ctx, key, price, p.ttl).Err(); err != nil {
			log.Printf("[billing] price cache write %s: %v", key, err)
		}
	}
	return price, nil
}
