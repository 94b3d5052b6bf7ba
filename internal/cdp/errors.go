package cdp

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/mafredri/cdp/protocol/network"
)

var (
	ErrNotAttached = errors.New("cdp: no target attached")
	ErrNoTarget    = errors.New("cdp: target not found")
)

// errorReason 将抓取错误映射为浏览器原生的失败原因
func errorReason(err error) network.ErrorReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return network.ErrorReasonTimedOut
	}
	if errors.Is(err, context.Canceled) {
		return network.ErrorReasonAborted
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return network.ErrorReasonNameNotResolved
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return network.ErrorReasonConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return network.ErrorReasonConnectionReset
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return network.ErrorReasonTimedOut
	}
	return network.ErrorReasonFailed
}
