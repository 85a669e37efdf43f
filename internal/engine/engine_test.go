package engine

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/evolang/evo/internal/astc"
	"github.com/evolang/evo/internal/config"
	"github.com/evolang/evo/internal/jit"
	"github.com/evolang/evo/internal/module"
)

// 测试程序
var (
	// load r0, 42; halt
	progLoad42 = []byte{
		byte(astc.OpLoadImm32), 0, 42, 0, 0, 0,
		byte(astc.OpHalt),
	}

	// load r0, 1; exit 7
	progExit7 = []byte{
		byte(astc.OpLoadImm32), 0, 1, 0, 0, 0,
		byte(astc.OpExit), 7,
	}
)

func newEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func writeContainer(t *testing.T, code []byte, entry uint32) string {
	t.Helper()
	c := &astc.Container{
		Version:  astc.ContainerVersion,
		Entry:    entry,
		Bytecode: code,
	}
	path := filepath.Join(t.TempDir(), "prog"+astc.FileExtension)
	if err := c.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

// ============================================================================
// 解释执行
// ============================================================================

func TestInterpretFile(t *testing.T) {
	e := newEngine(t, nil)
	path := writeContainer(t, progExit7, 0)

	res, err := e.InterpretFile(path)
	if err != nil {
		t.Fatalf("InterpretFile: %v", err)
	}
	if res.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", res.ExitCode)
	}
	if res.Instructions != 2 {
		t.Errorf("instructions = %d, want 2", res.Instructions)
	}
}

func TestInterpretHonorsInstructionCeiling(t *testing.T) {
	cfg := config.Default()
	cfg.VM.MaxInstructions = 10

	e := newEngine(t, cfg)
	// call 0 自递归，永不停机
	prog, err := astc.NewProgram([]byte{byte(astc.OpCall), 0, 0, 0, 0}, 0)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	if _, err := e.Interpret(prog); err == nil {
		t.Error("runaway program should hit the instruction ceiling")
	}
}

// ============================================================================
// 编译与原生执行
// ============================================================================

func TestBuildProducesValidModule(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("jit requires amd64 host")
	}
	e := newEngine(t, nil)
	src := writeContainer(t, progLoad42, 0)

	out, err := e.BuildFile(src, "")
	if err != nil {
		t.Fatalf("BuildFile: %v", err)
	}
	if filepath.Ext(out) != module.FileExtension {
		t.Errorf("output = %s, want %s extension", out, module.FileExtension)
	}

	m, err := module.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if _, ok := m.FindExport("main"); !ok {
		t.Error("built module must export main")
	}
	if m.Meta == nil {
		t.Fatal("built module must carry metadata")
	}
	if m.Meta.SourceHash != jit.ContentHash(progLoad42, 0) {
		t.Errorf("source hash = %016x, want hash of input bytecode", m.Meta.SourceHash)
	}
	if m.Meta.Toolchain != "evo-"+Version {
		t.Errorf("toolchain = %q", m.Meta.Toolchain)
	}
}

func TestBuildThenExec(t *testing.T) {
	if runtime.GOARCH != "amd64" {
		t.Skip("jit requires amd64 host")
	}
	e := newEngine(t, nil)
	src := writeContainer(t, progLoad42, 0)

	out, err := e.BuildFile(src, "")
	if err != nil {
		t.Fatalf("BuildFile: %v", err)
	}
	got, err := e.ExecFile(out, "main")
	if err != nil {
		t.Fatalf("ExecFile: %v", err)
	}
	if got != 42 {
		t.Errorf("main() = %d, want 42", got)
	}
	// 执行结束后模块应已卸载
	if e.Registry().Loaded() != 0 {
		t.Errorf("Loaded() = %d after ExecFile, want 0", e.Registry().Loaded())
	}
}

func TestCompileWithJITDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.JIT.Enabled = false

	e := newEngine(t, cfg)
	if e.JITAvailable() {
		t.Fatal("jit should be off")
	}
	prog, err := astc.NewProgram(progLoad42, 0)
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	if _, err := e.CompileProgram(prog, "x"); !errors.Is(err, ErrJITDisabled) {
		t.Errorf("CompileProgram = %v, want ErrJITDisabled", err)
	}

	// 解释路径不受影响
	if _, err := e.Interpret(prog); err != nil {
		t.Errorf("Interpret: %v", err)
	}
}

func TestInterpretRejectsBadContainer(t *testing.T) {
	e := newEngine(t, nil)
	path := filepath.Join(t.TempDir(), "bad.astc")
	if err := os.WriteFile(path, []byte("not a container"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := e.InterpretFile(path); err == nil {
		t.Error("bad container should fail")
	}
}
