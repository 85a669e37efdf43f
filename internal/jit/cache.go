// cache.go - 编译缓存
//
// 以字节码内容哈希为键缓存编译产物。命中方拿到的是机器码的
// 独立拷贝：每次安装都占用自己的可执行内存，互不干扰。

package jit

import (
	"hash/fnv"
	"sync"

	"go.uber.org/atomic"
)

// DefaultCacheSize 缓存容量上限（字节，按机器码大小累计）
const DefaultCacheSize = 16 * 1024 * 1024

// ContentHash 计算字节码的内容哈希（FNV-1a 64 位）
// 入口偏移参与哈希：同一段字节码从不同入口编译产生不同机器码。
func ContentHash(code []byte, entry int) uint64 {
	h := fnv.New64a()
	h.Write(code)
	var eb [4]byte
	eb[0] = byte(entry)
	eb[1] = byte(entry >> 8)
	eb[2] = byte(entry >> 16)
	eb[3] = byte(entry >> 24)
	h.Write(eb[:])
	return h.Sum64()
}

// CacheStats 缓存统计
type CacheStats struct {
	Entries  int
	Bytes    int
	Hits     uint64
	Misses   uint64
	Declined uint64 // 容量不足被拒收的产物数
}

// CodeCache 编译缓存
type CodeCache struct {
	mu      sync.RWMutex
	entries map[uint64][]byte // 内容哈希 -> 机器码
	bytes   int
	maxSize int

	hits     atomic.Uint64
	misses   atomic.Uint64
	declined atomic.Uint64
}

// NewCodeCache 创建编译缓存
// maxSize <= 0 时使用默认容量。
func NewCodeCache(maxSize int) *CodeCache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &CodeCache{
		entries: make(map[uint64][]byte),
		maxSize: maxSize,
	}
}

// Lookup 按内容哈希查询，返回机器码的独立拷贝
func (c *CodeCache) Lookup(key uint64) ([]byte, bool) {
	c.mu.RLock()
	code, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Inc()
		return nil, false
	}
	c.hits.Inc()
	return append([]byte(nil), code...), true
}

// Store 存入编译产物
// 超出容量上限时静默拒收（只记入统计），不做淘汰。
func (c *CodeCache) Store(key uint64, code []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return
	}
	if c.bytes+len(code) > c.maxSize {
		c.declined.Inc()
		return
	}
	c.entries[key] = append([]byte(nil), code...)
	c.bytes += len(code)
}

// Clear 清空缓存
func (c *CodeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64][]byte)
	c.bytes = 0
}

// Stats 返回缓存统计快照
func (c *CodeCache) Stats() CacheStats {
	c.mu.RLock()
	entries, bytes := len(c.entries), c.bytes
	c.mu.RUnlock()

	return CacheStats{
		Entries:  entries,
		Bytes:    bytes,
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Declined: c.declined.Load(),
	}
}
