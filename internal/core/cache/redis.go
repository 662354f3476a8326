package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache 允许为 nil：未配置 redis 时所有读取直接回源
type Cache struct {
	RDB *redis.Client
	sf  singleflight.Group
}

// New addr 为空返回 nil
func New(addr, pass string, db int) *Cache {
	if addr == "" {
		return nil
	}
	return &Cache{
		RDB: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}),
	}
}

func (c *Cache) enabled() bool { return c != nil && c.RDB != nil }

func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if !c.enabled() {
		return load(ctx)
	}
	// 先读缓存
	if b, err := c.RDB.Get(ctx, key).Bytes(); err == nil {
		return b, nil
	}
	// single flight 合并回源
	v, err, _ := c.sf.Do(key, func() (any, error) {
		b, e := load(ctx)
		if e != nil {
			return nil, e
		}
		_ = c.RDB.Set(ctx, key, b, ttl).Err()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.RDB.Del(ctx, keys...).Err()
}

// Gen 读 key 当前的代数，未设置、未启用或出错时为 0
func (c *Cache) Gen(ctx context.Context, key string) int64 {
	if !c.enabled() {
		return 0
	}
	n, err := c.RDB.Get(ctx, genKey(key)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0
	}
	return n
}

// Bump 让 key 进入下一代。
// 回源在提交前读到旧行、在 Del 之后才 Set 时，脏值写进的是旧代的 key，
// 之后的读取按新代取 key，不会再命中它
func (c *Cache) Bump(ctx context.Context, key string) error {
	if !c.enabled() {
		return nil
	}
	return c.RDB.Incr(ctx, genKey(key)).Err()
}

// Versioned 带代数的数据 key，和 Gen 一起用
func Versioned(key string, gen int64) string { return key + ":v" + strconv.FormatInt(gen, 10) }

func genKey(key string) string { return "gen:" + key }

// FixedWindow 固定窗口计数，窗口内第 limit+1 次起返回 false。
// redis 不可用时放行。
func (c *Cache) FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if !c.enabled() || limit <= 0 {
		return true, nil
	}
	pipe := c.RDB.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= int64(limit), nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.RDB.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if !c.enabled() {
		return nil
	}
	return c.RDB.Close()
}
