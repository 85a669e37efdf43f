// compiler.go - JIT 编译器
//
// 编译器持有一块固定大小的 RWX 缓冲区，产物按顺序安装其中；
// 缓冲区写满后编译失败（ErrBufferFull），不做搬迁或回收。
// 已发出的入口地址在编译器生命周期内保持有效。

package jit

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/evolang/evo/internal/module"
)

// CompilerStats 编译器统计
type CompilerStats struct {
	Compiled  uint64 // 走完代码生成的次数
	CacheHits uint64 // 缓存命中的次数
	Failed    uint64 // 编译失败的次数
	BytesUsed int    // 缓冲区已用字节
}

// CompiledCode 编译产物
type CompiledCode struct {
	Entry     uintptr // 可执行入口地址
	Size      int     // 机器码大小
	Hash      uint64  // 字节码内容哈希
	Arch      module.Arch
	OptLevel  OptLevel
	FromCache bool // 是否来自编译缓存

	mem []byte // 缓冲区内的安装区间
}

// Bytes 返回机器码的独立拷贝
func (c *CompiledCode) Bytes() []byte {
	return append([]byte(nil), c.mem...)
}

// Compiler JIT 编译器
type Compiler struct {
	arch     module.Arch
	optLevel OptLevel
	flags    Flags
	cache    *CodeCache // 可为 nil（缓存关闭）

	mu    sync.Mutex
	buf   []byte // RWX 缓冲区（页对齐映射）
	limit int    // 逻辑容量，可小于映射大小
	used  int

	compiled  atomic.Uint64
	cacheHits atomic.Uint64
	failed    atomic.Uint64

	lastErr atomic.Error
}

// New 创建 JIT 编译器（默认缓冲区大小）
func New(arch module.Arch, optLevel OptLevel, flags Flags, cache *CodeCache) (*Compiler, error) {
	return NewSized(arch, optLevel, flags, cache, DefaultBufferSize)
}

// NewSized 创建 JIT 编译器
// 不支持的体系结构在这里就拒绝，调用方无需等到编译时。
func NewSized(arch module.Arch, optLevel OptLevel, flags Flags, cache *CodeCache, bufSize int) (*Compiler, error) {
	if arch != module.ArchX64 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedArch, arch)
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	buf, err := AllocExecutable(bufSize)
	if err != nil {
		return nil, fmt.Errorf("jit: allocate executable buffer: %w", err)
	}
	if flags&FlagCacheEnabled == 0 {
		cache = nil
	}
	return &Compiler{
		arch:     arch,
		optLevel: optLevel,
		flags:    flags,
		cache:    cache,
		buf:      buf,
		limit:    bufSize,
	}, nil
}

// Arch 返回目标体系结构
func (c *Compiler) Arch() module.Arch { return c.arch }

// Compile 编译一段字节码
// entry 是入口指令的字节码偏移。缓存命中时跳过代码生成，
// 但产物仍然获得独立的缓冲区区间。
func (c *Compiler) Compile(code []byte, entry int) (*CompiledCode, error) {
	if len(code) == 0 {
		c.failed.Inc()
		return nil, ErrEmptyCode
	}

	hash := ContentHash(code, entry)

	var native []byte
	fromCache := false
	if c.cache != nil {
		if cached, ok := c.cache.Lookup(hash); ok {
			native = cached
			fromCache = true
		}
	}

	if native == nil {
		generated, err := genX64(code, entry)
		if err != nil {
			c.failed.Inc()
			c.lastErr.Store(err)
			return nil, err
		}
		native = generated
		if c.cache != nil {
			c.cache.Store(hash, native)
		}
	}

	mem, err := c.install(native)
	if err != nil {
		c.failed.Inc()
		c.lastErr.Store(err)
		return nil, err
	}

	if fromCache {
		c.cacheHits.Inc()
	} else {
		c.compiled.Inc()
	}

	return &CompiledCode{
		Entry:     CodePointer(mem),
		Size:      len(native),
		Hash:      hash,
		Arch:      c.arch,
		OptLevel:  c.optLevel,
		FromCache: fromCache,
		mem:       mem,
	}, nil
}

// install 把机器码拷入缓冲区，返回安装区间
func (c *Compiler) install(native []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 入口 16 字节对齐
	offset := (c.used + 15) &^ 15
	if offset+len(native) > c.limit {
		free := c.limit - offset
		if free < 0 {
			free = 0
		}
		return nil, fmt.Errorf("%w: need %d bytes, %d free",
			ErrBufferFull, len(native), free)
	}
	mem := c.buf[offset : offset+len(native)]
	copy(mem, native)
	c.used = offset + len(native)
	return mem, nil
}

// Execute 执行编译产物
// 参数个数 0..2，返回机器码的返回值。
func (c *Compiler) Execute(code *CompiledCode, args ...int64) (int64, error) {
	if code == nil || code.Entry == 0 {
		return 0, fmt.Errorf("jit: nothing to execute")
	}
	return CallNative(code.Entry, args)
}

// LastError 返回最近一次编译失败的错误
func (c *Compiler) LastError() error {
	return c.lastErr.Load()
}

// Stats 返回编译器统计快照
func (c *Compiler) Stats() CompilerStats {
	c.mu.Lock()
	used := c.used
	c.mu.Unlock()

	return CompilerStats{
		Compiled:  c.compiled.Load(),
		CacheHits: c.cacheHits.Load(),
		Failed:    c.failed.Load(),
		BytesUsed: used,
	}
}

// Close 释放可执行缓冲区
// 之后所有已发出的入口地址失效，调用方负责顺序。
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil {
		return nil
	}
	err := FreeExecutable(c.buf)
	c.buf = nil
	c.used = 0
	return err
}
