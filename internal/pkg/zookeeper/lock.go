// internal/pkg/zookeeper/lock.go
package zookeeper

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"jeutaime/internal/pkg/logger"
)

const (
	lockRoot = "/jeutaime_locks" // 所有分布式锁的根节点
)

// ErrLockTimeout 在 ctx 结束前没能拿到锁
var ErrLockTimeout = errors.New("zookeeper: timeout waiting for lock")

// Connect 建立到 ZooKeeper 集群的会话
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	if len(servers) == 0 {
		return nil, errors.New("zookeeper: no servers configured")
	}
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, errors.Wrap(err, "zookeeper: connect")
	}
	logger.L().Info().Strs("servers", servers).Msg("✅ Connected to ZooKeeper.")
	return conn, nil
}

// Locker 按资源名生成分布式锁
type Locker struct {
	conn *zk.Conn
}

func NewLocker(conn *zk.Conn) *Locker {
	return &Locker{conn: conn}
}

// Acquire 阻塞直到获得 resourceID 对应的锁或 ctx 结束，返回释放函数
func (l *Locker) Acquire(ctx context.Context, resourceID string) (func(), error) {
	lock, err := NewDistributedLock(l.conn, resourceID)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resource", resourceID).Msg("failed to release zk lock")
		}
	}, nil
}

// DistributedLock 基于临时顺序节点的公平锁
type DistributedLock struct {
	conn     *zk.Conn
	path     string // 锁的路径，例如 /jeutaime_locks/job-daily-bonus
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁实例，必要时创建根节点和资源节点
func NewDistributedLock(conn *zk.Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if _, err := conn.Create(p, []byte(""), 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return nil, errors.Wrapf(err, "zookeeper: create %s", p)
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

// Lock 尝试获取锁，如果获取不到则阻塞等待前一个节点被删除
func (l *DistributedLock) Lock(ctx context.Context) error {
	// 1. 在锁路径下创建一个临时顺序节点
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return errors.Wrap(err, "failed to create sequential node")
	}
	l.lockNode = nodePath
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")

	for {
		// 2. 获取锁路径下的所有子节点并按序号排序
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			_ = l.Unlock()
			return errors.Wrap(err, "failed to get children nodes")
		}
		sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

		// 3. 自己是最小节点即获得锁
		idx := -1
		for i, child := range children {
			if child == myNodeName {
				idx = i
				break
			}
		}
		if idx == 0 {
			return nil
		}
		if idx < 0 {
			_ = l.Unlock()
			return errors.New("cannot find own lock node, session may have expired")
		}

		// 4. 监听前一个节点
		prevNodePath := l.path + "/" + children[idx-1]
		exists, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			_ = l.Unlock()
			return errors.Wrap(err, "failed to watch previous node")
		}
		if !exists {
			continue
		}

		select {
		case <-eventChan:
		case <-ctx.Done():
			_ = l.Unlock()
			return ErrLockTimeout
		}
	}
}

// Unlock 释放锁
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return errors.Wrap(err, "failed to delete lock node")
	}
	l.lockNode = ""
	return nil
}

// sequence 取出顺序节点末尾的 10 位序号，protected 节点带有 GUID 前缀，不能直接按名字排序
func sequence(node string) string {
	if len(node) < 10 {
		return node
	}
	return node[len(node)-10:]
}
