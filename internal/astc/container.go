// container.go - ASTC 字节码容器格式
//
// 布局（全部小端）：
//   magic "ASTC" (4) | version (4) | flags (4) | entry (4)
//   | source size (4) | source bytes | bytecode size (4) | bytecode bytes
//
// source 段是可选的原始 C 源码，供诊断工具使用；执行路径只关心 bytecode 段。

package astc

import (
	"encoding/binary"
	"fmt"
	"os"
)

const (
	// FileExtension 字节码容器文件后缀
	FileExtension = ".astc"

	// containerMagic 文件魔数 "ASTC"
	containerMagic uint32 = 0x43545341 // 小端写出后为字节序列 'A' 'S' 'T' 'C'

	// ContainerVersion 当前容器版本
	ContainerVersion uint32 = 1

	// containerHeaderSize 固定头部大小（不含变长段）
	containerHeaderSize = 20
)

// FormatError 容器格式错误
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("astc container: %s", e.Detail)
}

// Container 字节码容器
type Container struct {
	Version  uint32
	Flags    uint32
	Entry    uint32 // 入口点（字节码内偏移）
	Source   []byte // 可选源码
	Bytecode []byte
}

// Program 不可变的字节码程序
// 由容器或原始字节构造，供解释器与 JIT 消费。
type Program struct {
	Code  []byte
	Entry int
}

// NewProgram 构造程序，拒绝空字节码与越界入口
func NewProgram(code []byte, entry int) (*Program, error) {
	if len(code) == 0 {
		return nil, &FormatError{Detail: "empty bytecode"}
	}
	if entry < 0 || entry >= len(code) {
		return nil, &FormatError{Detail: fmt.Sprintf("entry point %d out of range [0,%d)", entry, len(code))}
	}
	// 拷贝一份，保证程序不可变
	dup := make([]byte, len(code))
	copy(dup, code)
	return &Program{Code: dup, Entry: entry}, nil
}

// Program 从容器提取程序
func (c *Container) Program() (*Program, error) {
	return NewProgram(c.Bytecode, int(c.Entry))
}

// Marshal 序列化容器
func (c *Container) Marshal() []byte {
	buf := make([]byte, 0, containerHeaderSize+len(c.Source)+4+len(c.Bytecode))
	buf = binary.LittleEndian.AppendUint32(buf, containerMagic)
	buf = binary.LittleEndian.AppendUint32(buf, c.Version)
	buf = binary.LittleEndian.AppendUint32(buf, c.Flags)
	buf = binary.LittleEndian.AppendUint32(buf, c.Entry)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Source)))
	buf = append(buf, c.Source...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(c.Bytecode)))
	buf = append(buf, c.Bytecode...)
	return buf
}

// ValidateHeader 校验容器头部（魔数与版本）
func ValidateHeader(data []byte) error {
	if len(data) < containerHeaderSize {
		return &FormatError{Detail: "file too small"}
	}
	if binary.LittleEndian.Uint32(data[0:4]) != containerMagic {
		return &FormatError{Detail: "bad magic"}
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != ContainerVersion {
		return &FormatError{Detail: fmt.Sprintf("unsupported version %d", v)}
	}
	return nil
}

// ParseContainer 解析容器字节
func ParseContainer(data []byte) (*Container, error) {
	if err := ValidateHeader(data); err != nil {
		return nil, err
	}

	c := &Container{
		Version: binary.LittleEndian.Uint32(data[4:8]),
		Flags:   binary.LittleEndian.Uint32(data[8:12]),
		Entry:   binary.LittleEndian.Uint32(data[12:16]),
	}

	pos := 16
	srcLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+srcLen > len(data) {
		return nil, &FormatError{Detail: "source section truncated"}
	}
	if srcLen > 0 {
		c.Source = append([]byte(nil), data[pos:pos+srcLen]...)
	}
	pos += srcLen

	if pos+4 > len(data) {
		return nil, &FormatError{Detail: "bytecode length missing"}
	}
	bcLen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+bcLen > len(data) {
		return nil, &FormatError{Detail: "bytecode section truncated"}
	}
	c.Bytecode = append([]byte(nil), data[pos:pos+bcLen]...)

	return c, nil
}

// WriteFile 写出容器到文件
func (c *Container) WriteFile(path string) error {
	return os.WriteFile(path, c.Marshal(), 0644)
}

// ReadContainerFile 从文件读取容器
func ReadContainerFile(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseContainer(data)
}
