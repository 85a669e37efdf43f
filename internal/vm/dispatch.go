// dispatch.go - 指令分发
//
// 每次 Step 解码一条指令、递增计数器并分发执行。
// 非法操作码、截断指令与栈溢出/下溢都会把状态机打到 ERROR。

package vm

import "github.com/evolang/evo/internal/astc"

// 各操作码的抽象周期数，用于 cycles 统计
var opCycles = map[astc.OpCode]uint64{
	astc.OpNop:       1,
	astc.OpHalt:      1,
	astc.OpLoadImm32: 1,
	astc.OpAdd:       1,
	astc.OpCall:      2,
	astc.OpRet:       2,
	astc.OpExit:      1,
}

// Step 执行一条指令
func (m *VM) Step() error {
	if m.state != StateRunning {
		return errNotRunning(m.state)
	}

	inst, err := astc.Decode(m.program.Code, m.pc)
	if err != nil {
		m.fail("decode failed: %v", err)
		return errRuntime(m.errMsg)
	}

	m.instructions.Inc()
	m.cycles.Add(opCycles[inst.Op])
	next := m.pc + inst.Length

	switch inst.Op {
	case astc.OpNop:
		// 空操作

	case astc.OpHalt:
		m.exitCode = 0
		m.state = StateHalted
		return nil

	case astc.OpLoadImm32:
		m.regs[inst.Dst] = int64(inst.Imm)

	case astc.OpAdd:
		m.regs[inst.Dst] = m.regs[inst.Src1] + m.regs[inst.Src2]

	case astc.OpCall:
		target := int(inst.Target)
		if target >= len(m.program.Code) {
			m.fail("call target %d out of range [0,%d)", target, len(m.program.Code))
			return errRuntime(m.errMsg)
		}
		if !m.pushCall(next) {
			return errRuntime(m.errMsg)
		}
		m.pc = target
		return nil

	case astc.OpRet:
		ret, ok := m.popCall()
		if !ok {
			return errRuntime(m.errMsg)
		}
		m.pc = ret
		return nil

	case astc.OpExit:
		m.exitCode = int(inst.Code)
		m.state = StateHalted
		return nil
	}

	if next >= len(m.program.Code) && m.state == StateRunning {
		m.fail("program counter ran off the end of the bytecode at %d", next)
		return errRuntime(m.errMsg)
	}
	m.pc = next
	return nil
}
