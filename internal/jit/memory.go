// memory.go - 可执行内存分配入口
//
// 平台相关的分配/释放在 memory_unix.go / memory_windows.go 中实现，
// 统一返回页对齐的 RWX 映射。

package jit

import "unsafe"

// AllocExecutable 分配可执行内存
// 返回的切片长度按页大小向上取整，可直接写入并执行。
func AllocExecutable(size int) ([]byte, error) {
	return allocExecutable(size)
}

// FreeExecutable 释放可执行内存
func FreeExecutable(mem []byte) error {
	return freeExecutable(mem)
}

// CodePointer 取映射的入口地址
func CodePointer(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}
