package cdp

import (
	"context"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	adapter "cdpupgrade/internal/adapter/cdp"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/domain"
)

// replyTimeout 向浏览器回写结果的超时，与处理超时无关
const replyTimeout = time.Second

// handle 处理一次拦截事件：交给拦截器抓取，再以 fulfill 或 fail 回应浏览器
func (m *Manager) handle(ts *targetSession, ev *fetch.RequestPausedReply) {
	ctx, cancel := context.WithTimeout(ts.ctx, m.processTimeout)
	defer cancel()
	start := time.Now()

	req := adapter.ToNeutralRequest(ev)
	l := m.log.With("target", string(ts.id), "requestID", req.ID)
	l.Debug("开始处理拦截事件", "url", req.URL, "method", req.Method, "resourceType", req.ResourceType)

	upgradedURL, upgraded := upgrade.Rewrite(req.URL)
	evt := domain.InterceptEvent{
		Type:   domain.EventPassed,
		Target: ts.id,
		URL:    req.URL,
		Method: req.Method,
	}
	if upgraded {
		evt.Type = domain.EventUpgraded
		evt.UpgradedURL = upgradedURL
	}

	res, err := ts.handler.Handle(ctx, req)

	rctx, rcancel := context.WithTimeout(ts.ctx, replyTimeout)
	defer rcancel()
	if err != nil {
		reason := errorReason(err)
		if ferr := ts.fetch.FailRequest(rctx, fetch.NewFailRequestArgs(ev.RequestID, reason)); ferr != nil {
			l.Err(ferr, "回写失败结果出错")
		}
		evt.Type = domain.EventFailed
		evt.Error = err.Error()
		m.sendEvent(evt)
		l.Warn("拦截请求抓取失败", "url", req.URL, "reason", string(reason), "error", err.Error(), "duration", time.Since(start).String())
		return
	}

	if ferr := ts.fetch.FulfillRequest(rctx, adapter.ToFulfillArgs(ev.RequestID, res)); ferr != nil {
		l.Err(ferr, "回写响应出错", "url", req.URL)
	}
	evt.StatusCode = res.StatusCode
	m.sendEvent(evt)
	l.Debug("拦截事件处理完成", "type", evt.Type, "status", res.StatusCode, "duration", time.Since(start).String())
}

// dispatchPaused 根据并发配置调度单次拦截事件处理
func (m *Manager) dispatchPaused(ts *targetSession, ev *fetch.RequestPausedReply) {
	if m.pool == nil {
		go m.handle(ts, ev)
		return
	}
	// 队列满时阻塞，暂停事件流的读取以形成背压
	submitted := m.pool.submit(ts.ctx, func() {
		m.handle(ts, ev)
	})
	if !submitted {
		m.rejectPaused(ts, ev, "工作池已停止或目标已分离")
	}
}

// consume 持续接收拦截事件并按并发限制分发处理
func (m *Manager) consume(ts *targetSession) {
	rp, err := ts.fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.log.Err(err, "订阅拦截事件流失败", "target", string(ts.id))
		m.handleTargetStreamClosed(ts, err)
		return
	}
	defer rp.Close()

	m.log.Info("开始消费拦截事件流", "target", string(ts.id))
	for {
		ev, err := rp.Recv()
		if err != nil {
			m.handleTargetStreamClosed(ts, err)
			return
		}
		m.dispatchPaused(ts, ev)
	}
}

// handleTargetStreamClosed 处理单个目标的拦截流终止
func (m *Manager) handleTargetStreamClosed(ts *targetSession, err error) {
	if ts.ctx.Err() != nil {
		m.log.Info("目标已分离，停止事件消费", "target", string(ts.id))
		return
	}

	m.log.Warn("拦截流被中断，自动移除目标", "target", string(ts.id), "error", err.Error())

	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if cur, ok := m.targets[ts.id]; ok && cur == ts {
		m.closeTargetSession(cur)
		delete(m.targets, ts.id)
	}
}

// rejectPaused 无法调度时以失败结束请求，从不按原样放行
func (m *Manager) rejectPaused(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("请求未能调度，直接失败", "target", string(ts.id), "reason", reason, "requestID", string(ev.RequestID), "url", ev.Request.URL)
	// 目标上下文可能已取消，回复使用独立的超时
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()
	if err := ts.fetch.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, network.ErrorReasonAborted)); err != nil {
		m.log.Err(err, "回复失败请求出错", "target", string(ts.id))
	}
	m.sendEvent(domain.InterceptEvent{
		Type:   domain.EventFailed,
		Target: ts.id,
		URL:    ev.Request.URL,
		Method: ev.Request.Method,
		Error:  reason,
	})
}
