// container_test.go - 字节码容器格式测试

package astc

import (
	"path/filepath"
	"testing"
)

func TestContainerRoundTrip(t *testing.T) {
	src := &Container{
		Version:  ContainerVersion,
		Flags:    0x0001,
		Entry:    6,
		Source:   []byte("int main() { return 42; }"),
		Bytecode: []byte{0x10, 0x00, 0x2A, 0x00, 0x00, 0x00, 0x01},
	}

	data := src.Marshal()
	got, err := ParseContainer(data)
	if err != nil {
		t.Fatalf("ParseContainer failed: %v", err)
	}

	if got.Version != src.Version || got.Flags != src.Flags || got.Entry != src.Entry {
		t.Errorf("header mismatch: %+v", got)
	}
	if string(got.Source) != string(src.Source) {
		t.Errorf("source mismatch: %q", got.Source)
	}
	if string(got.Bytecode) != string(src.Bytecode) {
		t.Errorf("bytecode mismatch: % X", got.Bytecode)
	}
}

func TestContainerNoSource(t *testing.T) {
	src := &Container{Version: ContainerVersion, Bytecode: []byte{0x01}}
	got, err := ParseContainer(src.Marshal())
	if err != nil {
		t.Fatalf("ParseContainer failed: %v", err)
	}
	if len(got.Source) != 0 {
		t.Errorf("expected empty source, got %d bytes", len(got.Source))
	}
}

func TestContainerBadMagic(t *testing.T) {
	data := (&Container{Version: ContainerVersion, Bytecode: []byte{0x01}}).Marshal()
	data[0] = 'X'
	if _, err := ParseContainer(data); err == nil {
		t.Fatal("expected bad magic error")
	}
}

func TestContainerTruncated(t *testing.T) {
	data := (&Container{
		Version:  ContainerVersion,
		Bytecode: []byte{0x10, 0x00, 0x2A, 0x00, 0x00, 0x00},
	}).Marshal()

	for cut := 1; cut < len(data); cut++ {
		if _, err := ParseContainer(data[:cut]); err == nil {
			t.Errorf("truncation at %d bytes should fail", cut)
		}
	}
}

func TestContainerFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog"+FileExtension)
	src := &Container{Version: ContainerVersion, Entry: 0, Bytecode: []byte{0xFF, 0x07}}

	if err := src.WriteFile(path); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadContainerFile(path)
	if err != nil {
		t.Fatalf("ReadContainerFile failed: %v", err)
	}
	if string(got.Bytecode) != string(src.Bytecode) {
		t.Errorf("bytecode mismatch after file round trip")
	}
}

func TestNewProgram(t *testing.T) {
	if _, err := NewProgram(nil, 0); err == nil {
		t.Error("empty bytecode should be rejected")
	}
	if _, err := NewProgram([]byte{0x01}, 5); err == nil {
		t.Error("out-of-range entry should be rejected")
	}

	code := []byte{0x00, 0x01}
	p, err := NewProgram(code, 1)
	if err != nil {
		t.Fatalf("NewProgram failed: %v", err)
	}
	// 程序持有独立拷贝
	code[0] = 0xFF
	if p.Code[0] != 0x00 {
		t.Error("program must own an independent copy of the bytecode")
	}
}
