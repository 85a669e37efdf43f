// Package module 定义 NATV 原生模块容器格式。
//
// NATV 是 JIT 编译产物的持久化容器：定长头部 + 代码段 + 数据段
// + 导出表 + 可选重定位表 + 可选 CBOR 元数据块。
// 头部校验和覆盖 代码段‖数据段‖导出表，按异或合并。
package module

// ============================================================================
// 文件格式常量
// ============================================================================

const (
	// FileExtension 原生模块文件后缀
	FileExtension = ".natv"

	// magicNATV 文件魔数 "NATV"
	magicNATV uint32 = 0x5654414E // 小端写出后为字节序列 'N' 'A' 'T' 'V'

	// FormatVersion 当前格式版本
	FormatVersion uint32 = 1

	// HeaderSize 定长头部大小（128 字节对齐）
	HeaderSize = 128

	// ExportNameSize 导出名定长字段大小（含 NUL 终止符）
	ExportNameSize = 256

	// ExportEntrySize 导出表单条大小：名称 + 类型(4) + 标志(4) + 偏移(8) + 大小(8)
	ExportEntrySize = ExportNameSize + 4 + 4 + 8 + 8

	// RelocEntrySize 重定位表单条大小：偏移(8) + 类型(4) + 保留(4)
	RelocEntrySize = 16

	// MaxExports 导出表容量上限
	MaxExports = 1024
)

// 头部字段偏移（全部小端）
const (
	offMagic       = 0
	offVersion     = 4
	offArch        = 8
	offType        = 12
	offCodeOffset  = 16
	offCodeSize    = 24
	offDataOffset  = 32
	offDataSize    = 40
	offExportOff   = 48
	offExportCount = 56
	offEntry       = 60
	offMetaOffset  = 64
	offRelocOffset = 72
	offRelocCount  = 80
	// 84..88 为对齐填充
	offChecksum = 88
	// 96..128 保留
)

// ============================================================================
// 枚举
// ============================================================================

// Arch 目标体系结构
type Arch uint32

const (
	ArchUnknown Arch = 0
	ArchX64     Arch = 1 // x86-64，参考实现的唯一目标
	ArchArm64   Arch = 2 // 仅占位，编译器拒绝

	archMax = ArchArm64
)

// String 返回体系结构名称
func (a Arch) String() string {
	switch a {
	case ArchX64:
		return "x86-64"
	case ArchArm64:
		return "arm64"
	}
	return "unknown"
}

// Type 模块类型
type Type uint32

const (
	TypeUnknown    Type = 0
	TypeExecutable Type = 1
	TypeLibrary    Type = 2

	typeMax = TypeLibrary
)

// ExportType 导出符号类型
type ExportType uint32

const (
	// ExportFunction 函数导出，偏移相对代码段基址
	ExportFunction ExportType = 1
	// ExportVariable 变量导出，偏移相对数据段基址
	ExportVariable ExportType = 2
)

// 导出标志编码
// 低 4 位承载函数声明参数个数，供加载器选择调用桩。
const (
	// ExportFlagArityMask 参数个数掩码
	ExportFlagArityMask uint32 = 0x0F
)

// RelocType 重定位类型
type RelocType uint32

const (
	// RelocAbs64 64 位绝对地址：槽内存放相对代码段基址的偏移，
	// 加载时改写为 基址+偏移 的绝对地址。
	RelocAbs64 RelocType = 1
)
