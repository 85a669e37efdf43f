// Package vm 实现 ASTC 字节码解释器。
//
// 解释器是独立于 JIT 与模块格式的回退执行路径：
// 直接对寄存器文件、操作数栈和调用栈解释执行解码后的指令。
package vm

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/evolang/evo/internal/astc"
)

// ============================================================================
// VM 核心结构
// ============================================================================

// StackSize 操作数栈容量
const StackSize = 1024

// CallStackSize 调用栈容量
const CallStackSize = 256

// DefaultMaxInstructions 默认指令数上限
// 保证任何输入都会终止；超出即超时错误。
const DefaultMaxInstructions = 1_000_000

// State 虚拟机状态
type State int

const (
	StateCreated State = iota // 刚创建，未加载程序
	StateLoaded               // 已加载，pc 指向入口
	StateRunning              // 执行中
	StateHalted               // 正常停机
	StateError                // 错误停机，须重新 Load 或丢弃实例
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateLoaded:
		return "LOADED"
	case StateRunning:
		return "RUNNING"
	case StateHalted:
		return "HALTED"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// VM 字节码虚拟机
type VM struct {
	// 寄存器文件
	regs [astc.RegisterCount]int64

	// 操作数栈
	stack [StackSize]int64
	sp    int // 栈指针（指向下一个空位）

	// 调用栈（返回地址）
	calls [CallStackSize]int
	cp    int

	// 运行时状态
	program  *astc.Program
	pc       int
	state    State
	exitCode int
	errMsg   string

	// 指令数上限
	maxInstructions uint64

	// 统计计数器
	// 对外可在执行期间并发读取，用原子量承载。
	instructions atomic.Uint64
	cycles       atomic.Uint64
}

// Stats 虚拟机统计信息
type Stats struct {
	Instructions uint64 // 已执行指令数
	Cycles       uint64 // 已消耗抽象周期数
}

// New 创建虚拟机
func New() *VM {
	return &VM{
		state:           StateCreated,
		maxInstructions: DefaultMaxInstructions,
	}
}

// SetMaxInstructions 调整指令数上限（0 表示恢复默认）
func (m *VM) SetMaxInstructions(n uint64) {
	if n == 0 {
		n = DefaultMaxInstructions
	}
	m.maxInstructions = n
}

// Load 加载程序并复位
// 复位 pc、寄存器、栈与错误状态；空程序被拒绝。
func (m *VM) Load(p *astc.Program) error {
	if p == nil || len(p.Code) == 0 {
		return fmt.Errorf("vm: cannot load empty program")
	}

	m.program = p
	m.pc = p.Entry
	m.sp = 0
	m.cp = 0
	m.regs = [astc.RegisterCount]int64{}
	m.exitCode = 0
	m.errMsg = ""
	m.state = StateLoaded
	m.instructions.Store(0)
	m.cycles.Store(0)
	return nil
}

// Start 进入运行状态
func (m *VM) Start() error {
	if m.state != StateLoaded {
		return fmt.Errorf("vm: cannot start from state %v", m.state)
	}
	m.state = StateRunning
	return nil
}

// Run 驱动执行直到停机、出错或达到指令数上限
func (m *VM) Run() error {
	if m.state == StateLoaded {
		if err := m.Start(); err != nil {
			return err
		}
	}
	if m.state != StateRunning {
		return fmt.Errorf("vm: cannot run from state %v", m.state)
	}

	for m.state == StateRunning {
		if m.instructions.Load() >= m.maxInstructions {
			m.fail("instruction limit of %d exceeded", m.maxInstructions)
			return fmt.Errorf("vm: %s", m.errMsg)
		}
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// 栈操作（带边界检查）
// ============================================================================

// Push 压入操作数栈
func (m *VM) Push(v int64) error {
	if m.sp >= StackSize {
		m.fail("operand stack overflow (capacity %d)", StackSize)
		return fmt.Errorf("vm: %s", m.errMsg)
	}
	m.stack[m.sp] = v
	m.sp++
	return nil
}

// Pop 弹出操作数栈
func (m *VM) Pop() (int64, error) {
	if m.sp <= 0 {
		m.fail("operand stack underflow")
		return 0, fmt.Errorf("vm: %s", m.errMsg)
	}
	m.sp--
	return m.stack[m.sp], nil
}

// pushCall 压入返回地址
func (m *VM) pushCall(ret int) bool {
	if m.cp >= CallStackSize {
		m.fail("call stack overflow (capacity %d)", CallStackSize)
		return false
	}
	m.calls[m.cp] = ret
	m.cp++
	return true
}

// popCall 弹出返回地址
func (m *VM) popCall() (int, bool) {
	if m.cp <= 0 {
		m.fail("call stack underflow")
		return 0, false
	}
	m.cp--
	return m.calls[m.cp], true
}

// ============================================================================
// 错误处理
// ============================================================================

// fail 进入错误状态
// 没有回滚：出错后实例必须丢弃或重新 Load。
func (m *VM) fail(format string, args ...interface{}) {
	m.state = StateError
	m.errMsg = fmt.Sprintf(format, args...)
}

// ============================================================================
// 状态访问
// ============================================================================

// State 当前状态
func (m *VM) State() State {
	return m.state
}

// ExitCode 停机退出码
func (m *VM) ExitCode() int {
	return m.exitCode
}

// ErrorMessage 最近的错误消息
func (m *VM) ErrorMessage() string {
	return m.errMsg
}

// Reg 读取寄存器
func (m *VM) Reg(i int) int64 {
	if i < 0 || i >= astc.RegisterCount {
		return 0
	}
	return m.regs[i]
}

// PC 当前程序计数器
func (m *VM) PC() int {
	return m.pc
}

// StackDepth 当前操作数栈深度
func (m *VM) StackDepth() int {
	return m.sp
}

// CallDepth 当前调用深度
func (m *VM) CallDepth() int {
	return m.cp
}

// Stats 读取统计信息
func (m *VM) Stats() Stats {
	return Stats{
		Instructions: m.instructions.Load(),
		Cycles:       m.cycles.Load(),
	}
}
