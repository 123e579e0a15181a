package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ErrKeyNotFound is returned by Get when the key does not exist (or expired
// between discovery and retrieval).
var ErrKeyNotFound = errors.New("kvstore: key not found")

// Options configure the Redis connection.
type Options struct {
	Addr      string
	Password  string
	DB        int
	ScanCount int64
}

// Entry is one record to be written by PutSeries.
type Entry struct {
	Timestamp uint64
	Date      string
	Payload   []byte
}

// Client wraps a single long-lived Redis connection pool.
type Client struct {
	rdb       *redis.Client
	scanCount int64
	logger    zerolog.Logger
}

// New constructs a Redis-backed client. No I/O happens until the first call.
func New(opts Options, logger zerolog.Logger) *Client {
	scanCount := opts.ScanCount
	if scanCount <= 0 {
		scanCount = 512
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		MaxRetries: -1,
	})
	return &Client{
		rdb:       rdb,
		scanCount: scanCount,
		logger:    logger.With().Str("component", "kvstore").Logger(),
	}
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// ScanKeys enumerates every key matching pattern using SCAN.
// Order is unspecified; duplicates reported by SCAN are collapsed.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, c.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		for _, key := range batch {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	c.logger.Debug().Str("pattern", pattern).Int("keys", len(keys)).Msg("scan complete")
	return keys, nil
}

// Get returns the raw value stored at key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

// PutSeries writes a symbol's records with a TTL, maintains the sorted-set
// index and the count/start/end metadata keys, all in one pipeline.
func (c *Client) PutSeries(ctx context.Context, namespace, symbol string, entries []Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}

	indexKey := IndexKey(symbol)
	pipe := c.rdb.TxPipeline()
	for _, e := range entries {
		key := RecordKey(namespace, symbol, e.Timestamp)
		pipe.Set(ctx, key, e.Payload, ttl)
		pipe.ZAdd(ctx, indexKey, &redis.Z{Score: float64(e.Timestamp), Member: key})
	}
	pipe.Expire(ctx, indexKey, ttl)
	pipe.Set(ctx, MetaKey(symbol, "count"), strconv.Itoa(len(entries)), ttl)
	pipe.Set(ctx, MetaKey(symbol, "start"), entries[0].Date, ttl)
	pipe.Set(ctx, MetaKey(symbol, "end"), entries[len(entries)-1].Date, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store %s series: %w", symbol, err)
	}
	c.logger.Debug().Str("symbol", symbol).Int("records", len(entries)).Dur("ttl", ttl).Msg("series stored")
	return nil
}

// DeleteMatching removes every key matching pattern and returns how many were deleted.
func (c *Client) DeleteMatching(ctx context.Context, pattern string) (int, error) {
	keys, err := c.ScanKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for start := 0; start < len(keys); start += int(c.scanCount) {
		end := start + int(c.scanCount)
		if end > len(keys) {
			end = len(keys)
		}
		n, err := c.rdb.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", pattern, err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// DeleteKeys removes keys; absent keys are ignored.
func (c *Client) DeleteKeys(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete keys: %w", err)
	}
	return int(n), nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// RecordKey builds `<namespace>:<symbol>:<timestamp>`.
func RecordKey(namespace, symbol string, ts uint64) string {
	return namespace + ":" + symbol + ":" + strconv.FormatUint(ts, 10)
}

// SymbolPattern builds the SCAN pattern `<namespace>:<symbol>:*` with glob
// metacharacters in namespace and symbol escaped.
func SymbolPattern(namespace, symbol string) string {
	return escapeGlob(namespace) + ":" + escapeGlob(symbol) + ":*"
}

// NamespacePattern matches every record key in namespace.
func NamespacePattern(namespace string) string {
	return escapeGlob(namespace) + ":*"
}

// IndexKey is the sorted set listing a symbol's record keys by timestamp.
func IndexKey(symbol string) string {
	return "symbol:" + symbol
}

// MetaKey is a per-symbol metadata key such as meta:GS:count.
func MetaKey(symbol, field string) string {
	return "meta:" + symbol + ":" + field
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
