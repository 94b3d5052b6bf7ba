package cdp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/rpcc"

	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/domain"
	"cdpupgrade/pkg/traffic"
)

// fetchClient cdp.Fetch 中拦截处理用到的方法
type fetchClient interface {
	Enable(ctx context.Context, args *fetch.EnableArgs) error
	Disable(ctx context.Context) error
	RequestPaused(ctx context.Context) (fetch.RequestPausedClient, error)
	FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
}

// requestHandler 拦截器，由 upgrade.Interceptor 实现
type requestHandler interface {
	Handle(ctx context.Context, req *traffic.Request) (*traffic.Response, error)
}

// targetSession 单个浏览器目标的连接与拦截状态
type targetSession struct {
	id        domain.TargetID
	conn      *rpcc.Conn
	fetch     fetchClient
	handler   requestHandler
	ctx       context.Context
	cancel    context.CancelFunc
	consuming bool
}

// Options Manager 选项
type Options struct {
	DevToolsURL     string
	Session         domain.SessionID
	Fetcher         upgrade.Fetcher
	Observer        upgrade.Observer
	Events          chan domain.InterceptEvent
	Concurrency     int
	PendingCapacity int
	ProcessTimeout  time.Duration
	Logger          logger.Logger
}

// Manager 管理 DevTools 连接、目标附加与 Fetch 域拦截
type Manager struct {
	devtoolsURL    string
	session        domain.SessionID
	fetcher        upgrade.Fetcher
	observer       upgrade.Observer
	events         chan domain.InterceptEvent
	processTimeout time.Duration
	pool           *workerPool
	log            logger.Logger

	enabled      atomic.Bool
	eventsMu     sync.RWMutex
	eventsClosed bool
	targetsMu    sync.Mutex
	targets      map[domain.TargetID]*targetSession
}

// New 创建 Manager
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	to := opts.ProcessTimeout
	if to <= 0 {
		to = 30 * time.Second
	}
	m := &Manager{
		devtoolsURL:    opts.DevToolsURL,
		session:        opts.Session,
		fetcher:        opts.Fetcher,
		observer:       opts.Observer,
		events:         opts.Events,
		processTimeout: to,
		log:            l,
		targets:        make(map[domain.TargetID]*targetSession),
	}
	if opts.Concurrency > 0 {
		m.pool = newWorkerPool(opts.Concurrency, opts.PendingCapacity)
	}
	return m
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]domain.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}

	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]domain.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		_, attached := m.targets[domain.TargetID(t.ID)]
		out = append(out, domain.TargetInfo{
			ID:        domain.TargetID(t.ID),
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
		})
	}
	return out, nil
}

// AttachTarget 附加到指定目标，id 为空时选择第一个页面目标
func (m *Manager) AttachTarget(ctx context.Context, id domain.TargetID) error {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if id == "" || domain.TargetID(t.ID) == id {
			sel = t
			break
		}
	}
	if sel == nil {
		return fmt.Errorf("%w: %q", ErrNoTarget, id)
	}

	m.targetsMu.Lock()
	_, exists := m.targets[domain.TargetID(sel.ID)]
	m.targetsMu.Unlock()
	if exists {
		return nil
	}

	tctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", sel.WebSocketDebuggerURL, err)
	}
	client := cdp.NewClient(conn)
	ts := &targetSession{
		id:     domain.TargetID(sel.ID),
		conn:   conn,
		fetch:  client.Fetch,
		ctx:    tctx,
		cancel: cancel,
	}
	ts.handler = m.newInterceptor(client.Network)

	if !m.insertTarget(ts) {
		return nil
	}
	m.log.Info("已附加目标", "target", string(ts.id), "url", sel.URL)

	if m.isEnabled() {
		return m.enableTarget(ctx, ts)
	}
	return nil
}

// insertTarget 登记新目标。拨号期间锁已释放，若同一目标已被并发附加，
// 关闭 ts 的连接并返回 false
func (m *Manager) insertTarget(ts *targetSession) bool {
	m.targetsMu.Lock()
	_, exists := m.targets[ts.id]
	if !exists {
		m.targets[ts.id] = ts
	}
	m.targetsMu.Unlock()
	if exists {
		m.log.Debug("目标已被并发附加，丢弃多余连接", "target", string(ts.id))
		m.closeTargetSession(ts)
	}
	return !exists
}

// newInterceptor 为目标创建拦截器，抓取前附加该浏览器的 Cookie
func (m *Manager) newInterceptor(cookies cookieGetter) *upgrade.Interceptor {
	var f upgrade.Fetcher = m.fetcher
	if cookies != nil {
		f = &cookieFetcher{next: m.fetcher, cookies: cookies, log: m.log}
	}
	var opts []upgrade.Option
	if m.observer != nil {
		opts = append(opts, upgrade.WithObserver(m.observer))
	}
	return upgrade.New(f, opts...)
}

// DetachTarget 分离指定目标
func (m *Manager) DetachTarget(id domain.TargetID) error {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	ts, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoTarget, id)
	}
	m.closeTargetSession(ts)
	delete(m.targets, id)
	return nil
}

// DetachAll 分离全部目标
func (m *Manager) DetachAll() {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	for id, ts := range m.targets {
		m.closeTargetSession(ts)
		delete(m.targets, id)
	}
}

// Close 分离全部目标、停止工作池并关闭事件通道
func (m *Manager) Close() {
	m.enabled.Store(false)
	m.DetachAll()
	if m.pool != nil {
		m.pool.stop()
	}
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	if m.events != nil && !m.eventsClosed {
		close(m.events)
	}
	m.eventsClosed = true
}

// closeTargetSession 取消目标上下文并关闭连接，不修改 targets
func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if ts.conn != nil {
		if err := ts.conn.Close(); err != nil {
			m.log.Debug("关闭目标连接失败", "target", string(ts.id), "error", err.Error())
		}
	}
	m.log.Info("已分离目标", "target", string(ts.id))
}

// Enable 在全部已附加目标上启用请求阶段拦截，ctx 约束每次 Fetch.enable 调用
func (m *Manager) Enable(ctx context.Context) error {
	m.targetsMu.Lock()
	list := make([]*targetSession, 0, len(m.targets))
	for _, ts := range m.targets {
		list = append(list, ts)
	}
	m.targetsMu.Unlock()
	if len(list) == 0 {
		return ErrNotAttached
	}

	m.enabled.Store(true)
	for _, ts := range list {
		if err := m.enableTarget(ctx, ts); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) enableTarget(ctx context.Context, ts *targetSession) error {
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
	}
	if err := ts.fetch.Enable(ctx, fetch.NewEnableArgs().SetPatterns(patterns)); err != nil {
		return fmt.Errorf("enable fetch on %s: %w", ts.id, err)
	}

	m.targetsMu.Lock()
	start := !ts.consuming
	ts.consuming = true
	m.targetsMu.Unlock()
	if start {
		go m.consume(ts)
	}
	m.log.Info("已启用拦截", "target", string(ts.id))
	return nil
}

// Disable 停用全部目标上的拦截
func (m *Manager) Disable(ctx context.Context) error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if len(m.targets) == 0 {
		return ErrNotAttached
	}
	for _, ts := range m.targets {
		if err := ts.fetch.Disable(ctx); err != nil {
			return fmt.Errorf("disable fetch on %s: %w", ts.id, err)
		}
	}
	m.log.Info("已停用拦截")
	return nil
}

func (m *Manager) isEnabled() bool { return m.enabled.Load() }
