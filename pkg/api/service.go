package api

import (
	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/service"
	"cdpupgrade/pkg/domain"
)

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// Shutdown 停止全部会话
	Shutdown() int

	// AttachTarget 附加目标，target 为空时选择第一个页面
	AttachTarget(id domain.SessionID, target domain.TargetID) error

	// DetachTarget 分离目标
	DetachTarget(id domain.SessionID, target domain.TargetID) error

	// ListTargets 列出目标
	ListTargets(id domain.SessionID) ([]domain.TargetInfo, error)

	// EnableInterception 启用拦截
	EnableInterception(id domain.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(id domain.SessionID) error

	// SubscribeEvents 订阅事件，会话停止后通道关闭
	SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error)
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger, opts ...service.Option) Service {
	return service.New(l, opts...)
}
