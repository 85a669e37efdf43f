package jit

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================================
// 指令编码
// ============================================================================

func TestX64Encodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *X64Assembler)
		want []byte
	}{
		{"mov rax, 42", func(a *X64Assembler) { a.MovRegImm32(RAX, 42) },
			[]byte{0x48, 0xC7, 0xC0, 0x2A, 0x00, 0x00, 0x00}},
		{"mov rax, -1", func(a *X64Assembler) { a.MovRegImm32(RAX, -1) },
			[]byte{0x48, 0xC7, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"mov rbp, rsp", func(a *X64Assembler) { a.MovRegReg(RBP, RSP) },
			[]byte{0x48, 0x89, 0xE5}},
		{"mov rcx, rax", func(a *X64Assembler) { a.MovRegReg(RCX, RAX) },
			[]byte{0x48, 0x89, 0xC1}},
		{"add rax, rcx", func(a *X64Assembler) { a.AddRegReg(RAX, RCX) },
			[]byte{0x48, 0x01, 0xC8}},
		{"xor rax, rax", func(a *X64Assembler) { a.XorRegReg(RAX, RAX) },
			[]byte{0x48, 0x31, 0xC0}},
		{"push rbp", func(a *X64Assembler) { a.Push(RBP) },
			[]byte{0x55}},
		{"pop rbp", func(a *X64Assembler) { a.Pop(RBP) },
			[]byte{0x5D}},
		{"push r8 needs rex", func(a *X64Assembler) { a.Push(R8) },
			[]byte{0x41, 0x50}},
		{"nop", func(a *X64Assembler) { a.Nop() },
			[]byte{0x90}},
		{"ret", func(a *X64Assembler) { a.Ret() },
			[]byte{0xC3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewX64Assembler()
			tt.emit(a)
			got, err := a.Finalize()
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("encoded % X, want % X", got, tt.want)
			}
		})
	}
}

// ============================================================================
// 标签与重定位
// ============================================================================

func TestLabelBackwardReference(t *testing.T) {
	a := NewX64Assembler()
	a.Label(0)
	a.Nop()
	a.CallRel(0) // 回指到偏移 0

	got, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// call rel32 从下一条指令起算：0 - 6 = -6
	want := []byte{0x90, 0xE8, 0xFA, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded % X, want % X", got, want)
	}
}

func TestLabelForwardReference(t *testing.T) {
	a := NewX64Assembler()
	a.Jmp(1)
	a.Nop()
	a.Label(1)
	a.Ret()

	got, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	// 目标在偏移 6，占位符结束于 5：rel = 1
	want := []byte{0xE9, 0x01, 0x00, 0x00, 0x00, 0x90, 0xC3}
	if !bytes.Equal(got, want) {
		t.Errorf("encoded % X, want % X", got, want)
	}
}

func TestUnresolvedLabel(t *testing.T) {
	a := NewX64Assembler()
	a.CallRel(99)
	if _, err := a.Finalize(); !errors.Is(err, ErrBadTarget) {
		t.Errorf("Finalize = %v, want ErrBadTarget", err)
	}
}

func TestReset(t *testing.T) {
	a := NewX64Assembler()
	a.Label(0)
	a.Ret()
	if a.Len() == 0 {
		t.Fatal("Len should track emitted bytes")
	}

	a.Reset()
	if a.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", a.Len())
	}
	// 旧标签随 Reset 一并清除
	a.CallRel(0)
	if _, err := a.Finalize(); !errors.Is(err, ErrBadTarget) {
		t.Errorf("stale label after Reset = %v, want ErrBadTarget", err)
	}
}
