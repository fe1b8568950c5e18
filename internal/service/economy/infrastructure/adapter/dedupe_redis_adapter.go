package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"jeutaime/internal/pkg/redis"
)

const claimRecipientsScriptName = "claim_recipients"

// DedupeRedisAdapter 实现了 port.Deduper：每个事件一个集合，记录已认领的接收人
type DedupeRedisAdapter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewDedupeRedisAdapter 在创建时加载认领脚本
func NewDedupeRedisAdapter(redisClient *redis.Client, ttl time.Duration) (*DedupeRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(claimRecipientsScriptName, claimRecipientsScript); err != nil {
		return nil, errors.Wrap(err, "failed to load dedupe script")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupeRedisAdapter{redisClient: redisClient, ttl: ttl}, nil
}

func dedupeKey(eventID string) string {
	return fmt.Sprintf("notify:dedupe:{%s}", eventID)
}

// ClaimRecipients 原子地认领一批接收人，返回此前未被认领的那些
func (a *DedupeRedisAdapter) ClaimRecipients(ctx context.Context, eventID string, uids []string) ([]string, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(uids)+1)
	args = append(args, a.ttl.Milliseconds())
	for _, uid := range uids {
		args = append(args, uid)
	}

	result, err := a.redisClient.RunScript(ctx, claimRecipientsScriptName, []string{dedupeKey(eventID)}, args...)
	if err != nil {
		return nil, errors.Wrap(err, "dedupe adapter failed to run script")
	}
	raw, ok := result.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from Lua script: %T", result)
	}
	fresh := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			fresh = append(fresh, s)
		}
	}
	return fresh, nil
}

// Release 撤销对某个接收人的认领
func (a *DedupeRedisAdapter) Release(ctx context.Context, eventID, uid string) error {
	return errors.Wrap(a.redisClient.GetClient().SRem(ctx, dedupeKey(eventID), uid).Err(), "release dedupe claim")
}

var claimRecipientsScript = `
-- KEYS[1]: 事件的接收人集合, 例如: notify:dedupe:{evt-123}
-- ARGV[1]: 集合的过期时间 (毫秒)
-- ARGV[2..n]: 候选接收人

local fresh = {}
for i = 2, #ARGV do
    if redis.call('sadd', KEYS[1], ARGV[i]) == 1 then
        table.insert(fresh, ARGV[i])
    end
end
redis.call('pexpire', KEYS[1], ARGV[1])
return fresh
`
