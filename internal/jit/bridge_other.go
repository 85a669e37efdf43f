//go:build !amd64

// bridge_other.go - 非 AMD64 平台的占位实现
//
// 代码生成只支持 x86-64，其他平台上调用桥直接报错。

package jit

import "fmt"

// CallNative 非 AMD64 平台不可用
func CallNative(funcPtr uintptr, args []int64) (int64, error) {
	return 0, fmt.Errorf("jit: native call not supported on this platform: %w", ErrUnsupportedArch)
}
