// Package jit 把 ASTC 字节码编译为可直接执行的 x86-64 机器码。
//
// 编译流水线：
//   字节码 -> 解码 (internal/astc) -> x64 代码生成 -> 安装到可执行缓冲区
//
// 编译产物可选地进入内容哈希缓存（见 cache.go），相同字节码
// 第二次编译直接命中，不再走代码生成。
package jit

import (
	"errors"
	"runtime"

	"github.com/evolang/evo/internal/module"
)

// ============================================================================
// 编译选项
// ============================================================================

// Flags 编译器行为开关
type Flags uint32

const (
	// FlagCacheEnabled 启用编译缓存
	FlagCacheEnabled Flags = 1 << iota
	// FlagTrace 输出编译过程诊断
	FlagTrace
)

// OptLevel 优化级别
// 当前代码生成器只有一条直通路径，级别仅记录在产物上。
type OptLevel int

const (
	OptNone OptLevel = 0
	OptFull OptLevel = 2
)

// DefaultBufferSize 默认可执行缓冲区大小
const DefaultBufferSize = 64 * 1024

// ============================================================================
// 错误
// ============================================================================

var (
	// ErrUnsupportedArch 目标体系结构没有代码生成器
	ErrUnsupportedArch = errors.New("jit: unsupported target architecture")
	// ErrBufferFull 可执行缓冲区剩余空间不足
	ErrBufferFull = errors.New("jit: executable buffer full")
	// ErrEmptyCode 输入字节码为空
	ErrEmptyCode = errors.New("jit: empty bytecode")
	// ErrBadTarget CALL 目标不是指令边界
	ErrBadTarget = errors.New("jit: call target is not an instruction boundary")
)

// DetectArch 探测本机体系结构
func DetectArch() module.Arch {
	switch runtime.GOARCH {
	case "amd64":
		return module.ArchX64
	case "arm64":
		return module.ArchArm64
	}
	return module.ArchUnknown
}
