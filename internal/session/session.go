package session

import (
	"time"

	"cdpupgrade/internal/cdp"
	"cdpupgrade/pkg/domain"
)

// Session 一个 DevTools 连接上的拦截会话
type Session struct {
	ID        domain.SessionID
	Config    domain.SessionConfig
	Manager   *cdp.Manager
	Events    <-chan domain.InterceptEvent
	CreatedAt time.Time
}

// New 创建会话
func New(id domain.SessionID, cfg domain.SessionConfig, mgr *cdp.Manager, events <-chan domain.InterceptEvent) *Session {
	return &Session{
		ID:        id,
		Config:    cfg,
		Manager:   mgr,
		Events:    events,
		CreatedAt: time.Now(),
	}
}
