// x64_asm.go - x86-64 汇编器
//
// x86-64 指令编码格式：
// [前缀] [REX] [操作码] [ModR/M] [SIB] [位移] [立即数]
//
// REX 前缀：用于扩展寄存器和操作数大小
// - REX.W: 64 位操作数
// - REX.R: 扩展 ModR/M.reg 字段
// - REX.X: 扩展 SIB.index 字段
// - REX.B: 扩展 ModR/M.r/m 或 SIB.base 字段
//
// 前向引用用标签 + 重定位表解决：跳转/调用先发出 4 字节占位，
// Finalize 时按标签实际位置回填相对偏移。

package jit

import (
	"encoding/binary"
	"fmt"
)

// ============================================================================
// x86-64 寄存器定义
// ============================================================================

// X64Reg x86-64 寄存器
type X64Reg int

const (
	RAX X64Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// String 返回寄存器名称
func (r X64Reg) String() string {
	names := []string{
		"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	}
	if r >= 0 && int(r) < len(names) {
		return names[r]
	}
	return "???"
}

// IsExtended 检查是否是扩展寄存器（需要 REX.B/REX.R）
func (r X64Reg) IsExtended() bool {
	return r >= R8 && r <= R15
}

// LowBits 获取寄存器编码的低 3 位
func (r X64Reg) LowBits() byte {
	return byte(r) & 0x7
}

// ============================================================================
// x86-64 汇编器
// ============================================================================

// X64Assembler x86-64 汇编器
type X64Assembler struct {
	code   []byte      // 生成的机器码
	labels map[int]int // 标签位置（标签 ID -> 代码偏移）
	relocs []x64Reloc  // 待回填的相对偏移
}

// x64Reloc 重定位条目
type x64Reloc struct {
	offset int // 占位符在代码中的偏移
	target int // 目标标签 ID
}

// NewX64Assembler 创建 x86-64 汇编器
func NewX64Assembler() *X64Assembler {
	return &X64Assembler{
		code:   make([]byte, 0, 1024),
		labels: make(map[int]int),
	}
}

// Reset 重置汇编器状态
func (a *X64Assembler) Reset() {
	a.code = a.code[:0]
	a.labels = make(map[int]int)
	a.relocs = nil
}

// Len 返回当前代码长度
func (a *X64Assembler) Len() int {
	return len(a.code)
}

// Label 定义标签
func (a *X64Assembler) Label(id int) {
	a.labels[id] = len(a.code)
}

// Finalize 回填所有重定位并返回机器码
// 引用了未定义标签的跳转/调用是编译错误。
func (a *X64Assembler) Finalize() ([]byte, error) {
	for _, reloc := range a.relocs {
		target, ok := a.labels[reloc.target]
		if !ok {
			return nil, fmt.Errorf("%w: label %d", ErrBadTarget, reloc.target)
		}
		// 相对偏移从占位符之后（下一条指令）起算
		rel := int32(target - (reloc.offset + 4))
		binary.LittleEndian.PutUint32(a.code[reloc.offset:], uint32(rel))
	}
	return a.code, nil
}

// ============================================================================
// 底层编码方法
// ============================================================================

// emit 写入字节
func (a *X64Assembler) emit(bytes ...byte) {
	a.code = append(a.code, bytes...)
}

// emitU32 写入 32 位值（小端序）
func (a *X64Assembler) emitU32(v uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, v)
}

// rex 构造 REX 前缀
func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

// modrm 构造 ModR/M 字节
func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 0x7) << 3) | (rm & 0x7)
}

// ============================================================================
// 数据移动指令
// ============================================================================

// MovRegReg 寄存器到寄存器: mov dst, src
func (a *X64Assembler) MovRegReg(dst, src X64Reg) {
	a.emit(rex(true, src.IsExtended(), false, dst.IsExtended()))
	a.emit(0x89)
	a.emit(modrm(3, src.LowBits(), dst.LowBits()))
}

// MovRegImm32 加载 32 位立即数（符号扩展到 64 位）: mov reg, imm32
func (a *X64Assembler) MovRegImm32(reg X64Reg, imm int32) {
	a.emit(rex(true, false, false, reg.IsExtended()))
	a.emit(0xC7)
	a.emit(modrm(3, 0, reg.LowBits()))
	a.emitU32(uint32(imm))
}

// ============================================================================
// 算术与位运算指令
// ============================================================================

// AddRegReg 寄存器加法: add dst, src
func (a *X64Assembler) AddRegReg(dst, src X64Reg) {
	a.emit(rex(true, src.IsExtended(), false, dst.IsExtended()))
	a.emit(0x01)
	a.emit(modrm(3, src.LowBits(), dst.LowBits()))
}

// XorRegReg 位异或: xor dst, src
func (a *X64Assembler) XorRegReg(dst, src X64Reg) {
	a.emit(rex(true, src.IsExtended(), false, dst.IsExtended()))
	a.emit(0x31)
	a.emit(modrm(3, src.LowBits(), dst.LowBits()))
}

// ============================================================================
// 栈操作指令
// ============================================================================

// Push 压栈: push reg
func (a *X64Assembler) Push(reg X64Reg) {
	if reg.IsExtended() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x50 + reg.LowBits())
}

// Pop 出栈: pop reg
func (a *X64Assembler) Pop(reg X64Reg) {
	if reg.IsExtended() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x58 + reg.LowBits())
}

// ============================================================================
// 控制流指令
// ============================================================================

// Nop 空操作
func (a *X64Assembler) Nop() {
	a.emit(0x90)
}

// Jmp 无条件跳转到标签（rel32）
func (a *X64Assembler) Jmp(labelID int) {
	a.emit(0xE9)
	a.relocs = append(a.relocs, x64Reloc{offset: len(a.code), target: labelID})
	a.emitU32(0) // 占位符
}

// CallRel 相对调用到标签: call rel32
func (a *X64Assembler) CallRel(labelID int) {
	a.emit(0xE8)
	a.relocs = append(a.relocs, x64Reloc{offset: len(a.code), target: labelID})
	a.emitU32(0) // 占位符
}

// Ret 返回
func (a *X64Assembler) Ret() {
	a.emit(0xC3)
}
