// Package loader 把 NATV 模块装入可执行内存并驱动其导出函数。
//
// 同一路径的模块只装载一次：Registry 按规范化绝对路径去重，
// 重复 Open 返回同一个句柄并增加引用计数，Close 减到零才解除映射。
package loader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/evolang/evo/internal/jit"
	"github.com/evolang/evo/internal/module"
)

// 错误定义
var (
	// ErrClosed 句柄已经完全关闭
	ErrClosed = errors.New("loader: module already closed")
)

// FuncNotFoundError 找不到导出函数
type FuncNotFoundError struct {
	Module string
	Name   string
}

func (e *FuncNotFoundError) Error() string {
	return fmt.Sprintf("loader: function %q not found in %s", e.Name, e.Module)
}

// ArityError 实参个数与导出声明不符
type ArityError struct {
	Name string
	Want int
	Got  int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("loader: %q takes %d arguments, got %d", e.Name, e.Want, e.Got)
}

// ============================================================================
// 句柄
// ============================================================================

// Handle 已装载模块的句柄
// 同一路径的所有 Open 共享同一个 Handle。
type Handle struct {
	path string
	mod  *module.Module

	mem      []byte  // 整个文件的可执行映射
	codeBase uintptr // 代码段基址
	dataBase uintptr // 数据段基址

	refs int // 受 Registry 锁保护
}

// Path 返回模块的规范化路径
func (h *Handle) Path() string { return h.path }

// Module 返回解析出的模块描述
func (h *Handle) Module() *module.Module { return h.mod }

// ============================================================================
// 注册表
// ============================================================================

// Registry 模块注册表
type Registry struct {
	mu      sync.Mutex
	modules map[string]*Handle // 规范化路径 -> 句柄
	log     *zap.Logger
}

// NewRegistry 创建模块注册表
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		modules: make(map[string]*Handle),
		log:     log,
	}
}

// Open 装载模块
// 幂等：同一路径（规范化后）返回同一句柄，引用计数加一。
func (r *Registry) Open(path string) (*Handle, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("loader: resolve %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.modules[abs]; ok {
		h.refs++
		r.log.Debug("module ref added",
			zap.String("path", abs), zap.Int("refs", h.refs))
		return h, nil
	}

	h, err := r.load(abs)
	if err != nil {
		return nil, err
	}
	r.modules[abs] = h
	r.log.Info("module loaded",
		zap.String("path", abs),
		zap.Int("code_size", len(h.mod.Code)),
		zap.Int("exports", len(h.mod.Exports)))
	return h, nil
}

// load 读文件、解析并映射到可执行内存
func (r *Registry) load(abs string) (*Handle, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	var mod *module.Module
	if module.IsNative(data) {
		mod, err = module.Parse(data)
		if err != nil {
			return nil, err
		}
		if err := mod.Validate(); err != nil {
			return nil, err
		}
	} else {
		// 裸机器码：整个文件当作代码段，隐式导出 main（零参）
		mod = module.New(jit.DetectArch(), module.TypeExecutable)
		if err := mod.SetCode(data); err != nil {
			return nil, err
		}
		if err := mod.AddExport("main", module.ExportFunction, 0, 0, uint64(len(data))); err != nil {
			return nil, err
		}
		r.log.Debug("raw code blob, implicit main export",
			zap.String("path", abs), zap.Int("size", len(data)))
	}

	mem, err := jit.AllocExecutable(len(mod.Code) + len(mod.Data))
	if err != nil {
		return nil, fmt.Errorf("loader: map %s: %w", abs, err)
	}
	copy(mem, mod.Code)
	copy(mem[len(mod.Code):], mod.Data)

	h := &Handle{
		path:     abs,
		mod:      mod,
		mem:      mem,
		codeBase: jit.CodePointer(mem),
		refs:     1,
	}
	if len(mod.Data) > 0 {
		h.dataBase = h.codeBase + uintptr(len(mod.Code))
	}

	if err := h.applyRelocs(); err != nil {
		_ = jit.FreeExecutable(mem)
		return nil, err
	}
	return h, nil
}

// applyRelocs 应用重定位
// RelocAbs64：槽内存放代码段相对偏移，改写为映射后的绝对地址。
// 重定位表不在校验和覆盖范围内，槽偏移必须按不回绕的形式检查。
func (h *Handle) applyRelocs() error {
	codeLen := uint64(len(h.mod.Code))
	for _, rel := range h.mod.Relocs {
		if rel.Type != module.RelocAbs64 {
			return &module.FormatError{Field: "reloc",
				Detail: fmt.Sprintf("unsupported relocation type %d", rel.Type)}
		}
		if codeLen < 8 || rel.Offset > codeLen-8 {
			return &module.FormatError{Field: "reloc",
				Detail: fmt.Sprintf("slot at offset %d outside code of %d bytes", rel.Offset, codeLen)}
		}
		slot := h.mem[rel.Offset : rel.Offset+8]
		target := binary.LittleEndian.Uint64(slot)
		if target >= codeLen {
			return &module.FormatError{Field: "reloc",
				Detail: fmt.Sprintf("target offset %d outside code of %d bytes", target, codeLen)}
		}
		binary.LittleEndian.PutUint64(slot, uint64(h.codeBase)+target)
	}
	return nil
}

// Exec 调用模块的导出函数
// 实参个数必须与导出声明的参数个数一致。
func (r *Registry) Exec(h *Handle, name string, args ...int64) (int64, error) {
	r.mu.Lock()
	if h.mem == nil {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	r.mu.Unlock()

	ex, ok := h.mod.FindExport(name)
	if !ok {
		return 0, &FuncNotFoundError{Module: h.path, Name: name}
	}
	if ex.Type != module.ExportFunction {
		return 0, &FuncNotFoundError{Module: h.path, Name: name}
	}
	if want := ex.Arity(); want != len(args) {
		return 0, &ArityError{Name: name, Want: want, Got: len(args)}
	}

	addr, err := h.mod.ExportAddress(name, h.codeBase, h.dataBase)
	if err != nil {
		return 0, err
	}

	r.log.Debug("exec export",
		zap.String("module", h.path),
		zap.String("func", name),
		zap.Int("args", len(args)))
	return jit.CallNative(addr, args)
}

// Close 释放一个引用
// 计数降到零时解除映射并从注册表移除。
func (r *Registry) Close(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.mem == nil {
		return ErrClosed
	}
	h.refs--
	if h.refs > 0 {
		r.log.Debug("module ref released",
			zap.String("path", h.path), zap.Int("refs", h.refs))
		return nil
	}

	delete(r.modules, h.path)
	err := jit.FreeExecutable(h.mem)
	h.mem = nil
	h.codeBase = 0
	h.dataBase = 0
	r.log.Info("module unloaded", zap.String("path", h.path))
	return err
}

// Loaded 返回当前装载的模块数
func (r *Registry) Loaded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// CloseAll 强制卸载所有模块（忽略引用计数）
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs error
	for path, h := range r.modules {
		if h.mem != nil {
			errs = multierr.Append(errs, jit.FreeExecutable(h.mem))
			h.mem = nil
			h.codeBase = 0
			h.dataBase = 0
		}
		delete(r.modules, path)
	}
	return errs
}
