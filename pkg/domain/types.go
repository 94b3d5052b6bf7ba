package domain

import "time"

type SessionID string
type TargetID string

// SessionConfig 会话配置
type SessionConfig struct {
	DevToolsURL     string        `json:"devToolsURL"`
	Concurrency     int           `json:"concurrency"`
	PendingCapacity int           `json:"pendingCapacity"`
	ProcessTimeout  time.Duration `json:"processTimeout"`
}

// TargetInfo 浏览器目标信息
type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
}

// 拦截事件类型
const (
	EventUpgraded = "upgraded" // 明文请求已升级为 https 并完成抓取
	EventPassed   = "passed"   // 非明文请求原样抓取
	EventFailed   = "failed"   // 抓取失败或无法调度，拦截以失败结束
)

// InterceptEvent 单次拦截的处理结果
type InterceptEvent struct {
	Type        string    `json:"type"`
	Session     SessionID `json:"session"`
	Target      TargetID  `json:"target"`
	URL         string    `json:"url"`
	UpgradedURL string    `json:"upgradedURL,omitempty"`
	Method      string    `json:"method"`
	StatusCode  int       `json:"statusCode,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}
