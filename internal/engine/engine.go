// Package engine 把解释器、JIT 编译器与模块加载器装配成一套执行引擎。
//
// 三条执行路径：
//   - Interpret: 解释执行 .astc 程序（参考语义）
//   - Build:     .astc -> JIT 编译 -> .natv 原生模块
//   - ExecFile:  装载 .natv 并调用其导出函数
package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evolang/evo/internal/astc"
	"github.com/evolang/evo/internal/config"
	"github.com/evolang/evo/internal/jit"
	"github.com/evolang/evo/internal/loader"
	"github.com/evolang/evo/internal/module"
	"github.com/evolang/evo/internal/vm"
)

// Version 工具链版本（写入模块元数据）
const Version = "0.1.0"

// ErrJITDisabled JIT 被配置关闭或宿主不支持
var ErrJITDisabled = errors.New("engine: jit not available")

// Result 一次解释执行的结果
type Result struct {
	ExitCode     int
	Instructions uint64
	Cycles       uint64
}

// Engine 执行引擎
type Engine struct {
	cfg      *config.Config
	log      *zap.Logger
	cache    *jit.CodeCache
	compiler *jit.Compiler // nil: JIT 关闭或宿主不支持
	registry *loader.Registry
}

// New 创建执行引擎
// JIT 不可用（配置关闭或体系结构不支持）不是错误，
// 引擎降级到纯解释模式。
func New(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		registry: loader.NewRegistry(log.Named("loader")),
	}

	if cfg.Cache.Enabled {
		e.cache = jit.NewCodeCache(cfg.Cache.MaxSize)
	}

	if cfg.JIT.Enabled {
		arch := jit.DetectArch()
		flags := jit.Flags(0)
		if e.cache != nil {
			flags |= jit.FlagCacheEnabled
		}
		compiler, err := jit.NewSized(arch, jit.OptLevel(cfg.JIT.OptLevel), flags, e.cache, cfg.JIT.BufferSize)
		if err != nil {
			if errors.Is(err, jit.ErrUnsupportedArch) {
				log.Warn("jit unavailable on this host, interpreting only",
					zap.String("arch", arch.String()))
			} else {
				return nil, err
			}
		} else {
			e.compiler = compiler
			log.Debug("jit compiler ready",
				zap.String("arch", arch.String()),
				zap.Int("buffer_size", cfg.JIT.BufferSize))
		}
	}
	return e, nil
}

// JITAvailable JIT 是否就绪
func (e *Engine) JITAvailable() bool {
	return e.compiler != nil
}

// Registry 返回模块注册表
func (e *Engine) Registry() *loader.Registry {
	return e.registry
}

// ============================================================================
// 解释执行
// ============================================================================

// Interpret 解释执行程序
func (e *Engine) Interpret(prog *astc.Program) (*Result, error) {
	machine := vm.New()
	machine.SetMaxInstructions(e.cfg.VM.MaxInstructions)
	if err := machine.Load(prog); err != nil {
		return nil, err
	}

	start := time.Now()
	err := machine.Run()
	stats := machine.Stats()
	e.log.Debug("interpretation finished",
		zap.Stringer("state", machine.State()),
		zap.Uint64("instructions", stats.Instructions),
		zap.Duration("elapsed", time.Since(start)))

	if err != nil {
		return nil, err
	}
	return &Result{
		ExitCode:     machine.ExitCode(),
		Instructions: stats.Instructions,
		Cycles:       stats.Cycles,
	}, nil
}

// InterpretFile 读取 .astc 容器并解释执行
func (e *Engine) InterpretFile(path string) (*Result, error) {
	prog, err := readProgram(path)
	if err != nil {
		return nil, err
	}
	return e.Interpret(prog)
}

// ============================================================================
// 编译
// ============================================================================

// CompileProgram 把程序编译为 NATV 模块
// 模块导出零参的 main，元数据记录源哈希与工具链版本。
func (e *Engine) CompileProgram(prog *astc.Program, name string) (*module.Module, error) {
	if e.compiler == nil {
		return nil, ErrJITDisabled
	}

	compiled, err := e.compiler.Compile(prog.Code, prog.Entry)
	if err != nil {
		return nil, err
	}

	m := module.New(e.compiler.Arch(), module.TypeExecutable)
	if err := m.SetCode(compiled.Bytes()); err != nil {
		return nil, err
	}
	if err := m.AddExport("main", module.ExportFunction, 0, 0, uint64(compiled.Size)); err != nil {
		return nil, err
	}
	m.Meta = &module.Metadata{
		Name:       name,
		SourceHash: compiled.Hash,
		Toolchain:  "evo-" + Version,
		CreatedAt:  time.Now().Unix(),
	}

	e.log.Info("program compiled",
		zap.String("name", name),
		zap.Int("bytecode_size", len(prog.Code)),
		zap.Int("native_size", compiled.Size),
		zap.Bool("from_cache", compiled.FromCache))
	return m, nil
}

// BuildFile 把 .astc 容器编译成 .natv 模块文件
// out 为空时在源文件旁生成同名 .natv。
func (e *Engine) BuildFile(src, out string) (string, error) {
	prog, err := readProgram(src)
	if err != nil {
		return "", err
	}

	name := strings.TrimSuffix(filepath.Base(src), astc.FileExtension)
	m, err := e.CompileProgram(prog, name)
	if err != nil {
		return "", err
	}

	if out == "" {
		out = strings.TrimSuffix(src, astc.FileExtension) + module.FileExtension
	}
	if err := m.WriteFile(out); err != nil {
		return "", err
	}
	return out, nil
}

// ============================================================================
// 原生执行
// ============================================================================

// ExecFile 装载 .natv 模块并调用导出函数
func (e *Engine) ExecFile(path, funcName string, args ...int64) (int64, error) {
	h, err := e.registry.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := e.registry.Close(h); cerr != nil {
			e.log.Warn("module close failed", zap.String("path", path), zap.Error(cerr))
		}
	}()

	return e.registry.Exec(h, funcName, args...)
}

// ============================================================================
// 生命周期
// ============================================================================

// Close 释放引擎持有的全部资源
func (e *Engine) Close() error {
	var errs error
	errs = multierr.Append(errs, e.registry.CloseAll())
	if e.compiler != nil {
		errs = multierr.Append(errs, e.compiler.Close())
	}
	if e.cache != nil {
		e.cache.Clear()
	}
	return errs
}

// readProgram 从 .astc 容器文件提取程序
func readProgram(path string) (*astc.Program, error) {
	c, err := astc.ReadContainerFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c.Program()
}
