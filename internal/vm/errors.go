// errors.go - 解释器错误构造

package vm

import "fmt"

// errNotRunning 状态机不在 RUNNING 时的调用错误
func errNotRunning(s State) error {
	return fmt.Errorf("vm: not running (state %v)", s)
}

// errRuntime 运行时错误（状态机已进入 ERROR，消息已锁存）
func errRuntime(msg string) error {
	return fmt.Errorf("vm: %s", msg)
}
