// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

// Client 封装了 go-redis 客户端，并管理预加载的 Lua 脚本。
type Client struct {
	rdb     *goredis.Client
	scripts map[string]*goredis.Script
	mu      sync.RWMutex
}

// Options 是创建 Client 所需的连接参数
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient 创建客户端并检查连通性
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "redis: ping %s", opts.Addr)
	}
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}, nil
}

// NewFromClient 用已有的 go-redis 客户端构造（测试中配合 miniredis 使用）
func NewFromClient(rdb *goredis.Client) *Client {
	return &Client{rdb: rdb, scripts: make(map[string]*goredis.Script)}
}

// LoadScriptFromContent 注册一段 Lua 脚本并预加载到 Redis 的脚本缓存中。
func (c *Client) LoadScriptFromContent(name, content string) error {
	script := goredis.NewScript(content)
	if err := script.Load(context.Background(), c.rdb).Err(); err != nil {
		return errors.Wrapf(err, "redis: load script %q", name)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本。EvalSha 失败（NOSCRIPT）时 go-redis 会自动回退到 Eval。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("redis: script %q not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// GetClient 返回底层客户端
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
