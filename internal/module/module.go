// module.go - NATV 模块内存表示与校验

package module

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc64"
)

// 导出表错误哨兵
var (
	ErrExportName  = errors.New("export name empty or too long")
	ErrExportLimit = errors.New("export table full")
	ErrNotFound    = errors.New("export not found")
	ErrRange       = errors.New("export range outside owning section")
)

// FormatError 格式错误（魔数、版本、枚举越界等）
// 与校验和错误分开报告：格式错说明文件根本不是本格式或已不兼容。
type FormatError struct {
	Field  string
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("natv format: %s: %s", e.Field, e.Detail)
}

// ChecksumError 校验和不匹配（文件损坏）
type ChecksumError struct {
	Want uint64 // 头部记录值
	Got  uint64 // 重新计算值
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("natv checksum mismatch: header %016x, computed %016x", e.Want, e.Got)
}

// checksumTable CRC64 多项式表（ECMA，格式固定的一部分）
var checksumTable = crc64.MakeTable(crc64.ECMA)

// ============================================================================
// 模块结构
// ============================================================================

// Export 导出表条目
type Export struct {
	Name   string
	Type   ExportType
	Flags  uint32
	Offset uint64 // 相对所属段基址
	Size   uint64
}

// Arity 从标志位解出声明参数个数
func (e *Export) Arity() int {
	return int(e.Flags & ExportFlagArityMask)
}

// Reloc 重定位条目
type Reloc struct {
	Offset uint64 // 代码段内的槽偏移
	Type   RelocType
}

// Section 段标记，导出解析的返回值之一
type Section int

const (
	SectionCode Section = iota
	SectionData
)

// Module NATV 模块
type Module struct {
	Version uint32
	Arch    Arch
	Type    Type
	Entry   uint32 // 入口点（相对代码段起始）

	Code    []byte
	Data    []byte
	Exports []Export
	Relocs  []Reloc
	Meta    *Metadata

	// 文件布局（Marshal / Parse 填充）
	CodeOffset   uint64
	DataOffset   uint64
	ExportOffset uint64
	MetaOffset   uint64
	RelocOffset  uint64

	// 头部校验和；sealed 表示模块经过序列化或反序列化，
	// 校验和字段有效。
	headerChecksum uint64
	sealed         bool
}

// New 创建空模块，填充头部骨架
func New(arch Arch, typ Type) *Module {
	return &Module{
		Version: FormatVersion,
		Arch:    arch,
		Type:    typ,
	}
}

// SetCode 整体替换代码段（拷贝，不共享调用方内存）
func (m *Module) SetCode(code []byte) error {
	if len(code) == 0 {
		return &FormatError{Field: "code", Detail: "empty code section"}
	}
	m.Code = append([]byte(nil), code...)
	m.sealed = false
	return nil
}

// SetData 整体替换数据段（可为空）
func (m *Module) SetData(data []byte) {
	m.Data = append([]byte(nil), data...)
	m.sealed = false
}

// AddExport 追加导出条目
// 名称必须非空且短于定长字段；表满后拒绝。
func (m *Module) AddExport(name string, typ ExportType, flags uint32, offset, size uint64) error {
	if name == "" || len(name) >= ExportNameSize {
		return fmt.Errorf("%w: %q (%d bytes)", ErrExportName, name, len(name))
	}
	if len(m.Exports) >= MaxExports {
		return fmt.Errorf("%w: limit %d", ErrExportLimit, MaxExports)
	}
	m.Exports = append(m.Exports, Export{
		Name:   name,
		Type:   typ,
		Flags:  flags,
		Offset: offset,
		Size:   size,
	})
	m.sealed = false
	return nil
}

// AddReloc 追加重定位条目
func (m *Module) AddReloc(offset uint64, typ RelocType) {
	m.Relocs = append(m.Relocs, Reloc{Offset: offset, Type: typ})
	m.sealed = false
}

// ============================================================================
// 校验和
// ============================================================================

// Checksum 计算模块校验和
// 对 代码段、数据段、导出表 分别做 CRC64 后异或合并；
// 任一段中翻转一个字节都会改变结果。
func (m *Module) Checksum() uint64 {
	sum := crc64.Checksum(m.Code, checksumTable)
	sum ^= crc64.Checksum(m.Data, checksumTable)
	sum ^= crc64.Checksum(m.encodeExports(), checksumTable)
	return sum
}

// Validate 校验模块
// 格式错误与校验和错误是两种不同的失败，分别用
// *FormatError 与 *ChecksumError 报告。
func (m *Module) Validate() error {
	if m.Version != FormatVersion {
		return &FormatError{Field: "version", Detail: fmt.Sprintf("unsupported version %d", m.Version)}
	}
	if m.Arch == ArchUnknown || m.Arch > archMax {
		return &FormatError{Field: "arch", Detail: fmt.Sprintf("architecture %d out of range", m.Arch)}
	}
	if m.Type == TypeUnknown || m.Type > typeMax {
		return &FormatError{Field: "type", Detail: fmt.Sprintf("module type %d out of range", m.Type)}
	}

	if m.sealed {
		if got := m.Checksum(); got != m.headerChecksum {
			return &ChecksumError{Want: m.headerChecksum, Got: got}
		}
	}
	return nil
}

// ============================================================================
// 导出解析
// ============================================================================

// FindExport 按名称查找导出条目
func (m *Module) FindExport(name string) (*Export, bool) {
	for i := range m.Exports {
		if m.Exports[i].Name == name {
			return &m.Exports[i], true
		}
	}
	return nil, false
}

// ResolveExport 解析导出为（所属段，偏移，大小）
// 产生任何地址之前先对 offset+size 做所属缓冲区边界检查。
func (m *Module) ResolveExport(name string) (Section, uint64, uint64, error) {
	ex, ok := m.FindExport(name)
	if !ok {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	var sec Section
	var limit uint64
	switch ex.Type {
	case ExportFunction:
		sec, limit = SectionCode, uint64(len(m.Code))
	case ExportVariable:
		sec, limit = SectionData, uint64(len(m.Data))
	default:
		return 0, 0, 0, &FormatError{Field: "export", Detail: fmt.Sprintf("unknown export type %d", ex.Type)}
	}

	if ex.Offset > limit || ex.Offset+ex.Size > limit {
		return 0, 0, 0, fmt.Errorf("%w: %q [%d,%d) in section of %d bytes",
			ErrRange, name, ex.Offset, ex.Offset+ex.Size, limit)
	}
	return sec, ex.Offset, ex.Size, nil
}

// ExportAddress 解析导出为绝对地址
// codeBase/dataBase 是两段在内存中的映射基址。
func (m *Module) ExportAddress(name string, codeBase, dataBase uintptr) (uintptr, error) {
	sec, off, _, err := m.ResolveExport(name)
	if err != nil {
		return 0, err
	}
	if sec == SectionData {
		return dataBase + uintptr(off), nil
	}
	return codeBase + uintptr(off), nil
}

// encodeExports 导出表的定长二进制编码
// 序列化与校验和共用同一份编码，保证两者覆盖的字节一致。
func (m *Module) encodeExports() []byte {
	buf := new(bytes.Buffer)
	for i := range m.Exports {
		writeExport(buf, &m.Exports[i])
	}
	return buf.Bytes()
}
