// vm_test.go - 解释器测试

package vm

import (
	"strings"
	"testing"

	"github.com/evolang/evo/internal/astc"
)

// mustProgram 构造程序，失败即终止测试
func mustProgram(t *testing.T, code []byte, entry int) *astc.Program {
	t.Helper()
	p, err := astc.NewProgram(code, entry)
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	return p
}

// run 加载并运行
func run(t *testing.T, code []byte) *VM {
	t.Helper()
	m := New()
	if err := m.Load(mustProgram(t, code, 0)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m.Run()
	return m
}

func TestScenarioLoadAndHalt(t *testing.T) {
	// 加载 42 到 r0 后停机
	m := run(t, []byte{
		0x10, 0x00, 0x2A, 0x00, 0x00, 0x00, // LOAD_IMM32 r0, 42
		0x01, // HALT
	})

	if m.State() != StateHalted {
		t.Fatalf("state = %v, want HALTED (%s)", m.State(), m.ErrorMessage())
	}
	if m.Reg(0) != 42 {
		t.Errorf("r0 = %d, want 42", m.Reg(0))
	}
	if m.ExitCode() != 0 {
		t.Errorf("exit code = %d, want 0", m.ExitCode())
	}
}

func TestScenarioExitCode(t *testing.T) {
	// EXIT 7
	m := run(t, []byte{0xFF, 0x07})

	if m.State() != StateHalted {
		t.Fatalf("state = %v, want HALTED", m.State())
	}
	if m.ExitCode() != 7 {
		t.Errorf("exit code = %d, want 7", m.ExitCode())
	}
}

func TestAddRegisters(t *testing.T) {
	m := run(t, []byte{
		0x10, 0x01, 0x0A, 0x00, 0x00, 0x00, // LOAD_IMM32 r1, 10
		0x10, 0x02, 0x20, 0x00, 0x00, 0x00, // LOAD_IMM32 r2, 32
		0x20, 0x00, 0x01, 0x02, // ADD r0, r1, r2
		0x01, // HALT
	})

	if m.State() != StateHalted {
		t.Fatalf("state = %v, want HALTED (%s)", m.State(), m.ErrorMessage())
	}
	if m.Reg(0) != 42 {
		t.Errorf("r0 = %d, want 42", m.Reg(0))
	}
}

func TestCallAndReturn(t *testing.T) {
	// 主流程调用偏移 7 的子程序，子程序置 r5 后返回
	m := run(t, []byte{
		0x30, 0x07, 0x00, 0x00, 0x00, // 0: CALL 7
		0x01,                               // 5: HALT（返回后执行）
		0x00,                               // 6: NOP（对齐用）
		0x10, 0x05, 0x63, 0x00, 0x00, 0x00, // 7: LOAD_IMM32 r5, 99
		0x40, // 13: RET
	})

	if m.State() != StateHalted {
		t.Fatalf("state = %v, want HALTED (%s)", m.State(), m.ErrorMessage())
	}
	if m.Reg(5) != 99 {
		t.Errorf("r5 = %d, want 99", m.Reg(5))
	}
	if m.CallDepth() != 0 {
		t.Errorf("call depth = %d, want 0", m.CallDepth())
	}
}

func TestEntryPoint(t *testing.T) {
	// 入口指向第二条指令，跳过前面的 EXIT 1
	code := []byte{
		0xFF, 0x01, // 0: EXIT 1
		0xFF, 0x05, // 2: EXIT 5
	}
	m := New()
	if err := m.Load(mustProgram(t, code, 2)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	m.Run()

	if m.ExitCode() != 5 {
		t.Errorf("exit code = %d, want 5", m.ExitCode())
	}
}

func TestStateMachine(t *testing.T) {
	m := New()
	if m.State() != StateCreated {
		t.Fatalf("initial state = %v, want CREATED", m.State())
	}

	// 未加载不可启动
	if err := m.Start(); err == nil {
		t.Error("Start before Load should fail")
	}

	if err := m.Load(mustProgram(t, []byte{0x01}, 0)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.State() != StateLoaded {
		t.Fatalf("state after Load = %v, want LOADED", m.State())
	}

	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if m.State() != StateHalted {
		t.Fatalf("state after Run = %v, want HALTED", m.State())
	}

	// 错误后重新 Load 可复用
	if err := m.Load(mustProgram(t, []byte{0xFF, 0x03}, 0)); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	m.Run()
	if m.ExitCode() != 3 {
		t.Errorf("exit code after reload = %d, want 3", m.ExitCode())
	}
}

func TestLoadRejectsEmpty(t *testing.T) {
	m := New()
	if err := m.Load(nil); err == nil {
		t.Error("nil program should be rejected")
	}
}

func TestUnknownOpcodeLatchesError(t *testing.T) {
	m := run(t, []byte{0x00, 0x7F})

	if m.State() != StateError {
		t.Fatalf("state = %v, want ERROR", m.State())
	}
	if m.ErrorMessage() == "" {
		t.Error("error message should be set")
	}
}

func TestCallTargetOutOfRange(t *testing.T) {
	m := run(t, []byte{0x30, 0xFF, 0x00, 0x00, 0x00})
	if m.State() != StateError {
		t.Fatalf("state = %v, want ERROR", m.State())
	}
	if !strings.Contains(m.ErrorMessage(), "out of range") {
		t.Errorf("unexpected message: %s", m.ErrorMessage())
	}
}

func TestRetUnderflow(t *testing.T) {
	m := run(t, []byte{0x40})
	if m.State() != StateError {
		t.Fatalf("state = %v, want ERROR", m.State())
	}
	if !strings.Contains(m.ErrorMessage(), "underflow") {
		t.Errorf("unexpected message: %s", m.ErrorMessage())
	}
}

func TestCallStackOverflow(t *testing.T) {
	// CALL 0 无限自调用，调用栈先于指令上限耗尽
	m := run(t, []byte{0x30, 0x00, 0x00, 0x00, 0x00})

	if m.State() != StateError {
		t.Fatalf("state = %v, want ERROR", m.State())
	}
	if !strings.Contains(m.ErrorMessage(), "call stack overflow") {
		t.Errorf("unexpected message: %s", m.ErrorMessage())
	}
}

func TestInstructionCeiling(t *testing.T) {
	// 把上限压到调用栈容量之下，自调用循环必定先触发超时
	m := New()
	m.SetMaxInstructions(100)
	if err := m.Load(mustProgram(t, []byte{0x30, 0x00, 0x00, 0x00, 0x00}, 0)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	err := m.Run()

	if err == nil {
		t.Fatal("expected instruction limit error")
	}
	if !strings.Contains(m.ErrorMessage(), "instruction limit") {
		t.Errorf("unexpected message: %s", m.ErrorMessage())
	}
	if got := m.Stats().Instructions; got != 100 {
		t.Errorf("instructions = %d, want 100", got)
	}
}

func TestOperandStackBounds(t *testing.T) {
	m := New()
	if err := m.Load(mustProgram(t, []byte{0x01}, 0)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := m.Pop(); err == nil {
		t.Error("pop on empty stack should underflow")
	}

	// 重新加载清除错误状态
	if err := m.Load(mustProgram(t, []byte{0x01}, 0)); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	for i := 0; i < StackSize; i++ {
		if err := m.Push(int64(i)); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}
	if err := m.Push(0); err == nil {
		t.Error("push beyond capacity should overflow")
	}
}

func TestRunOffEndOfBytecode(t *testing.T) {
	// 程序没有 HALT，pc 越过末尾即错误
	m := run(t, []byte{0x00, 0x00})
	if m.State() != StateError {
		t.Fatalf("state = %v, want ERROR", m.State())
	}
}

func TestStatsCounters(t *testing.T) {
	m := run(t, []byte{
		0x00, // NOP
		0x00, // NOP
		0x01, // HALT
	})

	if got := m.Stats().Instructions; got != 3 {
		t.Errorf("instructions = %d, want 3", got)
	}
	if got := m.Stats().Cycles; got != 3 {
		t.Errorf("cycles = %d, want 3", got)
	}
}
