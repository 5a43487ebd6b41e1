// Package presence 基于 Redis 的低延迟旁路通道。
// 每个连接持有一个带 TTL 的租约键，心跳续期；断线写入登记在 Redis 侧的哈希中，
// 租约过期（进程退出或网络中断）后由 Reaper 执行，主动断开时立即执行。
package presence

import "strings"

const (
	keyPrefix         = "ripple:side:"
	valueKeyPrefix    = keyPrefix + "value:"
	channelPrefix     = keyPrefix + "changed:"
	leaseKeyPrefix    = keyPrefix + "lease:"
	pendingKeyPrefix  = keyPrefix + "ondisconnect:"
	applyingKeySuffix = ":applying"
)

// BuildValueKey 值键
// Key: ripple:side:value:{key}
func BuildValueKey(key string) string {
	return valueKeyPrefix + key
}

// BuildChannel 值变更的发布频道
func BuildChannel(key string) string {
	return channelPrefix + key
}

// BuildLeaseKey 连接租约键
// Key: ripple:side:lease:{connId}
func BuildLeaseKey(connID string) string {
	return leaseKeyPrefix + connID
}

// BuildPendingKey 断线写入哈希
// Key: ripple:side:ondisconnect:{connId}  field: 目标键  value: 写入值
func BuildPendingKey(connID string) string {
	return pendingKeyPrefix + connID
}

// ParseLeaseKey 从租约键解析连接 ID
func ParseLeaseKey(key string) (string, bool) {
	if !strings.HasPrefix(key, leaseKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, leaseKeyPrefix), true
}
