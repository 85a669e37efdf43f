// writer.go - NATV 序列化与写出
//
// 布局：头部在先，各段偏移按头部之后的累计和依次排列：
//   header | code | data | exports | relocs | metadata
// 读取方必须按头部声明的偏移寻址，不得假设物理连续
// （后续版本允许在段间穿插新块）。

package module

import (
	"bytes"
	"encoding/binary"
	"os"
)

// Marshal 序列化模块
// 计算段偏移、元数据编码与校验和，并把布局信息回填到模块上。
func (m *Module) Marshal() ([]byte, error) {
	if err := m.validateSkeleton(); err != nil {
		return nil, err
	}

	metaBytes, err := encodeMetadata(m.Meta)
	if err != nil {
		return nil, err
	}
	exportBytes := m.encodeExports()
	relocBytes := m.encodeRelocs()

	// 段偏移：头部之后的运行累计和
	pos := uint64(HeaderSize)
	m.CodeOffset = pos
	pos += uint64(len(m.Code))
	m.DataOffset = 0
	if len(m.Data) > 0 {
		m.DataOffset = pos
		pos += uint64(len(m.Data))
	}
	m.ExportOffset = 0
	if len(exportBytes) > 0 {
		m.ExportOffset = pos
		pos += uint64(len(exportBytes))
	}
	m.RelocOffset = 0
	if len(relocBytes) > 0 {
		m.RelocOffset = pos
		pos += uint64(len(relocBytes))
	}
	m.MetaOffset = 0
	if len(metaBytes) > 0 {
		m.MetaOffset = pos
		pos += uint64(len(metaBytes))
	}

	m.headerChecksum = m.Checksum()
	m.sealed = true

	buf := make([]byte, HeaderSize, pos)
	m.writeHeader(buf)
	buf = append(buf, m.Code...)
	buf = append(buf, m.Data...)
	buf = append(buf, exportBytes...)
	buf = append(buf, relocBytes...)
	buf = append(buf, metaBytes...)
	return buf, nil
}

// WriteFile 序列化并写出到文件
func (m *Module) WriteFile(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// validateSkeleton 序列化前的骨架检查
func (m *Module) validateSkeleton() error {
	if len(m.Code) == 0 {
		return &FormatError{Field: "code", Detail: "module has no code section"}
	}
	if m.Arch == ArchUnknown || m.Arch > archMax {
		return &FormatError{Field: "arch", Detail: "architecture not set"}
	}
	if m.Type == TypeUnknown || m.Type > typeMax {
		return &FormatError{Field: "type", Detail: "module type not set"}
	}
	return nil
}

// writeHeader 填充定长头部
func (m *Module) writeHeader(h []byte) {
	le := binary.LittleEndian
	le.PutUint32(h[offMagic:], magicNATV)
	le.PutUint32(h[offVersion:], m.Version)
	le.PutUint32(h[offArch:], uint32(m.Arch))
	le.PutUint32(h[offType:], uint32(m.Type))
	le.PutUint64(h[offCodeOffset:], m.CodeOffset)
	le.PutUint64(h[offCodeSize:], uint64(len(m.Code)))
	le.PutUint64(h[offDataOffset:], m.DataOffset)
	le.PutUint64(h[offDataSize:], uint64(len(m.Data)))
	le.PutUint64(h[offExportOff:], m.ExportOffset)
	le.PutUint32(h[offExportCount:], uint32(len(m.Exports)))
	le.PutUint32(h[offEntry:], m.Entry)
	le.PutUint64(h[offMetaOffset:], m.MetaOffset)
	le.PutUint64(h[offRelocOffset:], m.RelocOffset)
	le.PutUint32(h[offRelocCount:], uint32(len(m.Relocs)))
	le.PutUint64(h[offChecksum:], m.headerChecksum)
	// 其余字节保持零值（对齐填充与保留区）
}

// writeExport 写出单条导出（定长编码）
func writeExport(buf *bytes.Buffer, ex *Export) {
	var name [ExportNameSize]byte
	copy(name[:], ex.Name) // 名称在 AddExport 时已保证短于字段，NUL 终止

	buf.Write(name[:])
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], uint32(ex.Type))
	buf.Write(tmp[:4])
	binary.LittleEndian.PutUint32(tmp[:4], ex.Flags)
	buf.Write(tmp[:4])
	binary.LittleEndian.PutUint64(tmp[:], ex.Offset)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint64(tmp[:], ex.Size)
	buf.Write(tmp[:])
}

// encodeRelocs 重定位表的定长编码
func (m *Module) encodeRelocs() []byte {
	if len(m.Relocs) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(m.Relocs)*RelocEntrySize)
	for _, r := range m.Relocs {
		buf = binary.LittleEndian.AppendUint64(buf, r.Offset)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Type))
		buf = binary.LittleEndian.AppendUint32(buf, 0) // 保留
	}
	return buf
}
