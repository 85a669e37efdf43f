// decoder.go - ASTC 单指令解码器
//
// 每次调用只解码一条指令。解码器保证：
// 1. 不会读取缓冲区末尾之后的字节（长度不足即截断错误）
// 2. 寄存器索引在使用前按寄存器文件大小校验，越界报错而非截断

package astc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 解码错误哨兵
var (
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction")
	ErrBadRegister   = errors.New("register index out of range")
	ErrBadOffset     = errors.New("decode offset out of range")
)

// DecodeError 解码错误，携带出错位置
type DecodeError struct {
	Offset int   // 指令起始偏移
	Op     byte  // 原始操作码字节
	Err    error // 哨兵错误
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at offset %d (opcode 0x%02X): %v", e.Offset, e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Instruction 解码后的单条指令
type Instruction struct {
	Op     OpCode
	Dst    byte   // LOAD_IMM32 / ADD 的目的寄存器
	Src1   byte   // ADD 源寄存器 1
	Src2   byte   // ADD 源寄存器 2
	Imm    int32  // LOAD_IMM32 立即数
	Target uint32 // CALL 目标偏移
	Code   byte   // EXIT 退出码
	Length int    // 指令编码总长度
}

// Decode 从 code[pc:] 解码一条指令
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, &DecodeError{Offset: pc, Err: ErrBadOffset}
	}

	op := OpCode(code[pc])
	length := op.Length()
	if length == 0 {
		return Instruction{}, &DecodeError{Offset: pc, Op: byte(op), Err: ErrUnknownOpcode}
	}

	// 声明长度超出缓冲区即截断，绝不读越界
	if pc+length > len(code) {
		return Instruction{}, &DecodeError{Offset: pc, Op: byte(op), Err: ErrTruncated}
	}

	inst := Instruction{Op: op, Length: length}
	operands := code[pc+1 : pc+length]

	switch op {
	case OpNop, OpHalt, OpRet:
		// 无操作数

	case OpLoadImm32:
		if err := checkRegister(operands[0]); err != nil {
			return Instruction{}, &DecodeError{Offset: pc, Op: byte(op), Err: err}
		}
		inst.Dst = operands[0]
		inst.Imm = int32(binary.LittleEndian.Uint32(operands[1:5]))

	case OpAdd:
		for _, r := range operands[:3] {
			if err := checkRegister(r); err != nil {
				return Instruction{}, &DecodeError{Offset: pc, Op: byte(op), Err: err}
			}
		}
		inst.Dst = operands[0]
		inst.Src1 = operands[1]
		inst.Src2 = operands[2]

	case OpCall:
		inst.Target = binary.LittleEndian.Uint32(operands[0:4])

	case OpExit:
		inst.Code = operands[0]
	}

	return inst, nil
}

// checkRegister 校验寄存器索引
// 操作数占一个字节，索引范围随 RegisterCount 收缩时在此兜底。
func checkRegister(r byte) error {
	if int(r) >= RegisterCount {
		return ErrBadRegister
	}
	return nil
}
