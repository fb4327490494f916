// =============================================================================
// 文件: internal/transport/errors.go
// 描述: 发送端错误定义与状态码
// =============================================================================
package transport

import (
	"errors"
	"fmt"
)

// 错误定义
var (
	ErrAlreadyConnected = fmt.Errorf("连接已建立")
	ErrNotConnected     = fmt.Errorf("连接未建立")
	ErrInvalidName      = fmt.Errorf("无效的目标主机")
	ErrSendFailed       = fmt.Errorf("发送失败")
	ErrTimeout          = fmt.Errorf("重传次数耗尽")
	ErrReceiveFailed    = fmt.Errorf("接收失败")
	ErrInvalidArguments = fmt.Errorf("无效参数")
)

// 状态码 (同时作为驱动程序的退出码)
const (
	StatusOK               = 0
	StatusAlreadyConnected = 1
	StatusNotConnected     = 2
	StatusInvalidName      = 3
	StatusSendFailed       = 4
	StatusTimeout          = 5
	StatusReceiveFailed    = 6
	StatusInvalidArguments = 7
	StatusUnknown          = 255
)

var statusByError = []struct {
	err    error
	status int
}{
	{ErrAlreadyConnected, StatusAlreadyConnected},
	{ErrNotConnected, StatusNotConnected},
	{ErrInvalidName, StatusInvalidName},
	{ErrSendFailed, StatusSendFailed},
	{ErrTimeout, StatusTimeout},
	{ErrReceiveFailed, StatusReceiveFailed},
	{ErrInvalidArguments, StatusInvalidArguments},
}

// Status 将错误映射为状态码
func Status(err error) int {
	if err == nil {
		return StatusOK
	}
	for _, e := range statusByError {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return StatusUnknown
}
