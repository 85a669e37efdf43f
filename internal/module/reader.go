// reader.go - NATV 解析与读取
//
// 解析只做格式检查（魔数、版本、枚举、段边界）；
// 校验和比对留给 Validate，调用方据此区分
// "不是本格式的文件" 与 "本格式但已损坏" 两种失败。

package module

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// IsNative 探测数据是否带 NATV 魔数
func IsNative(data []byte) bool {
	return len(data) >= 4 && binary.LittleEndian.Uint32(data) == magicNATV
}

// Parse 解析 NATV 字节
func Parse(data []byte) (*Module, error) {
	if len(data) < HeaderSize {
		return nil, &FormatError{Field: "header", Detail: fmt.Sprintf("file too small: %d bytes", len(data))}
	}
	le := binary.LittleEndian
	if le.Uint32(data[offMagic:]) != magicNATV {
		return nil, &FormatError{Field: "magic", Detail: "not a NATV module"}
	}

	m := &Module{
		Version:      le.Uint32(data[offVersion:]),
		Arch:         Arch(le.Uint32(data[offArch:])),
		Type:         Type(le.Uint32(data[offType:])),
		CodeOffset:   le.Uint64(data[offCodeOffset:]),
		DataOffset:   le.Uint64(data[offDataOffset:]),
		ExportOffset: le.Uint64(data[offExportOff:]),
		Entry:        le.Uint32(data[offEntry:]),
		MetaOffset:   le.Uint64(data[offMetaOffset:]),
		RelocOffset:  le.Uint64(data[offRelocOffset:]),
	}
	codeSize := le.Uint64(data[offCodeSize:])
	dataSize := le.Uint64(data[offDataSize:])
	exportCount := le.Uint32(data[offExportCount:])
	relocCount := le.Uint32(data[offRelocCount:])
	m.headerChecksum = le.Uint64(data[offChecksum:])

	if m.Version != FormatVersion {
		return nil, &FormatError{Field: "version", Detail: fmt.Sprintf("unsupported version %d", m.Version)}
	}
	if m.Arch == ArchUnknown || m.Arch > archMax {
		return nil, &FormatError{Field: "arch", Detail: fmt.Sprintf("architecture %d out of range", m.Arch)}
	}
	if m.Type == TypeUnknown || m.Type > typeMax {
		return nil, &FormatError{Field: "type", Detail: fmt.Sprintf("module type %d out of range", m.Type)}
	}
	if exportCount > MaxExports {
		return nil, &FormatError{Field: "exports", Detail: fmt.Sprintf("export count %d exceeds limit", exportCount)}
	}

	// 各段按头部声明的偏移寻址
	var err error
	if m.Code, err = section(data, m.CodeOffset, codeSize, "code"); err != nil {
		return nil, err
	}
	if m.Data, err = section(data, m.DataOffset, dataSize, "data"); err != nil {
		return nil, err
	}

	exportBytes, err := section(data, m.ExportOffset, uint64(exportCount)*ExportEntrySize, "exports")
	if err != nil {
		return nil, err
	}
	if m.Exports, err = parseExports(exportBytes, int(exportCount)); err != nil {
		return nil, err
	}

	relocBytes, err := section(data, m.RelocOffset, uint64(relocCount)*RelocEntrySize, "relocs")
	if err != nil {
		return nil, err
	}
	m.Relocs = parseRelocs(relocBytes, int(relocCount))

	// 元数据块延伸到文件末尾（当前版本总在最后）
	if m.MetaOffset != 0 {
		if m.MetaOffset > uint64(len(data)) {
			return nil, &FormatError{Field: "metadata", Detail: "offset beyond end of file"}
		}
		if m.Meta, err = decodeMetadata(data[m.MetaOffset:]); err != nil {
			return nil, err
		}
	}

	m.sealed = true
	return m, nil
}

// ReadFile 从文件读取模块
func ReadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// section 取出一段，边界检查后返回独立拷贝
// off+size 可能回绕，边界检查必须用减法形式。
func section(data []byte, off, size uint64, name string) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	total := uint64(len(data))
	if off < HeaderSize || size > total || off > total-size {
		return nil, &FormatError{Field: name, Detail: fmt.Sprintf("section at offset %d size %d outside file of %d bytes", off, size, len(data))}
	}
	return append([]byte(nil), data[off:off+size]...), nil
}

// parseExports 解析定长导出表
func parseExports(data []byte, count int) ([]Export, error) {
	if count == 0 {
		return nil, nil
	}
	exports := make([]Export, 0, count)
	le := binary.LittleEndian
	for i := 0; i < count; i++ {
		entry := data[i*ExportEntrySize : (i+1)*ExportEntrySize]

		nameField := entry[:ExportNameSize]
		end := bytes.IndexByte(nameField, 0)
		if end < 0 {
			return nil, &FormatError{Field: "exports", Detail: fmt.Sprintf("entry %d: name not NUL-terminated", i)}
		}
		if end == 0 {
			return nil, &FormatError{Field: "exports", Detail: fmt.Sprintf("entry %d: empty name", i)}
		}

		exports = append(exports, Export{
			Name:   string(nameField[:end]),
			Type:   ExportType(le.Uint32(entry[ExportNameSize:])),
			Flags:  le.Uint32(entry[ExportNameSize+4:]),
			Offset: le.Uint64(entry[ExportNameSize+8:]),
			Size:   le.Uint64(entry[ExportNameSize+16:]),
		})
	}
	return exports, nil
}

// parseRelocs 解析定长重定位表
func parseRelocs(data []byte, count int) []Reloc {
	if count == 0 {
		return nil
	}
	relocs := make([]Reloc, 0, count)
	le := binary.LittleEndian
	for i := 0; i < count; i++ {
		entry := data[i*RelocEntrySize : (i+1)*RelocEntrySize]
		relocs = append(relocs, Reloc{
			Offset: le.Uint64(entry[0:8]),
			Type:   RelocType(le.Uint32(entry[8:12])),
		})
	}
	return relocs
}
