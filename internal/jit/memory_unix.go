//go:build !windows

// memory_unix.go - Unix/Linux/macOS 平台可执行内存分配
//
// 使用 mmap/munmap 分配具有执行权限的内存

package jit

import (
	"golang.org/x/sys/unix"
)

// allocExecutable 分配可执行内存（Unix）
func allocExecutable(size int) ([]byte, error) {
	if size <= 0 {
		size = 4096
	}

	// 对齐到页面大小
	pageSize := unix.Getpagesize()
	alignedSize := (size + pageSize - 1) &^ (pageSize - 1)

	// PROT_READ | PROT_WRITE | PROT_EXEC
	// MAP_PRIVATE | MAP_ANONYMOUS
	mem, err := unix.Mmap(
		-1, // fd
		0,  // offset
		alignedSize,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

// freeExecutable 释放可执行内存（Unix）
func freeExecutable(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}
