//go:build amd64

// bridge_amd64.go - AMD64 平台的本机代码调用桥
//
// 生成的机器码遵循 System V 整数调用约定（参数 RDI/RSI，
// 返回值 RAX），桥函数用 Go 汇编实现（bridge_amd64.s）。

package jit

import "fmt"

// callNative0 调用无参数的本机函数
func callNative0(funcPtr uintptr) int64

// callNative1 调用单参数的本机函数
func callNative1(funcPtr uintptr, arg0 int64) int64

// callNative2 调用双参数的本机函数
func callNative2(funcPtr uintptr, arg0, arg1 int64) int64

// CallNative 调用入口地址处的本机代码
func CallNative(funcPtr uintptr, args []int64) (int64, error) {
	if funcPtr == 0 {
		return 0, fmt.Errorf("jit: nil function pointer")
	}

	switch len(args) {
	case 0:
		return callNative0(funcPtr), nil
	case 1:
		return callNative1(funcPtr, args[0]), nil
	case 2:
		return callNative2(funcPtr, args[0], args[1]), nil
	default:
		return 0, fmt.Errorf("jit: %d arguments not supported (max 2)", len(args))
	}
}
