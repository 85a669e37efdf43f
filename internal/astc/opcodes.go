// Package astc 定义 ASTC 字节码指令集、单指令解码器与字节码容器格式。
//
// ASTC 是编译前端产出的栈式中间字节码，由解释器和 JIT 编译器共同消费。
// 本包只负责指令与容器的二进制表示，不涉及执行语义。
package astc

import "fmt"

// ============================================================================
// 指令集定义
// ============================================================================

// OpCode 字节码操作码
type OpCode byte

const (
	OpNop       OpCode = 0x00 // 空操作
	OpHalt      OpCode = 0x01 // 停机（退出码 0）
	OpLoadImm32 OpCode = 0x10 // 加载 32 位立即数到寄存器
	OpAdd       OpCode = 0x20 // 寄存器加法 dst = src1 + src2
	OpCall      OpCode = 0x30 // 调用（操作数为字节码内绝对偏移）
	OpRet       OpCode = 0x40 // 返回
	OpExit      OpCode = 0xFF // 带退出码停机
)

// RegisterCount 寄存器文件大小
const RegisterCount = 256

// opInfo 操作码元信息
type opInfo struct {
	name   string
	length int // 指令总长度（含操作码字节）
}

// opTable 操作码表
// 每个操作码的操作数字节数固定，不在表内的操作码均为非法。
var opTable = map[OpCode]opInfo{
	OpNop:       {"NOP", 1},
	OpHalt:      {"HALT", 1},
	OpLoadImm32: {"LOAD_IMM32", 6}, // 寄存器(1) + 立即数(4, 小端)
	OpAdd:       {"ADD", 4},        // dst(1) + src1(1) + src2(1)
	OpCall:      {"CALL", 5},       // 目标偏移(4, 小端)
	OpRet:       {"RET", 1},
	OpExit:      {"EXIT", 2}, // 退出码(1)
}

// Valid 检查操作码是否在指令表内
func (op OpCode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

// Length 返回指令总长度，非法操作码返回 0
func (op OpCode) Length() int {
	if info, ok := opTable[op]; ok {
		return info.length
	}
	return 0
}

// String 返回操作码名称
func (op OpCode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("OP_%02X", byte(op))
}
