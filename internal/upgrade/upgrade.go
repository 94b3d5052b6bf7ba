// Package upgrade 将明文 http 请求改写为 https 后再交给宿主的抓取原语。
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cdpupgrade/pkg/traffic"
)

const (
	plainPrefix  = "http://"
	securePrefix = "https://"
)

// ErrFetch 抓取原语返回的任何失败，原因可通过 errors.Unwrap 获取
var ErrFetch = errors.New("fetch failed")

// Decision 拦截器对单个请求的处理分支
type Decision string

const (
	DecisionUpgraded Decision = "upgraded"
	DecisionPassed   Decision = "passed"
)

// Fetcher 宿主提供的抓取原语
type Fetcher interface {
	Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error)
}

// FetcherFunc 函数适配器
type FetcherFunc func(ctx context.Context, req *traffic.Request) (*traffic.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	return f(ctx, req)
}

// Observer 接收每次拦截的结果，用于指标统计
type Observer interface {
	Observe(d Decision, elapsed time.Duration, err error)
}

// Rewrite 以 https:// 替换开头的 http://，只替换第一次出现。
// 不做 scheme 解析，其他 URL 原样返回。
func Rewrite(u string) (string, bool) {
	if !strings.HasPrefix(u, plainPrefix) {
		return u, false
	}
	return strings.Replace(u, plainPrefix, securePrefix, 1), true
}

// Interceptor 请求拦截器，无内部状态，可并发使用
type Interceptor struct {
	fetcher  Fetcher
	observer Observer
}

// Option 拦截器选项
type Option func(*Interceptor)

// WithObserver 设置结果观察者
func WithObserver(o Observer) Option {
	return func(i *Interceptor) { i.observer = o }
}

// New 创建拦截器
func New(f Fetcher, opts ...Option) *Interceptor {
	i := &Interceptor{fetcher: f}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Handle 处理一次拦截事件：必要时升级 URL，然后恰好发起一次抓取并返回其结果。
// 升级后的抓取只携带新 URL，按默认 GET 发出，不沿用原请求的方法、头部与请求体；
// 未升级的请求原样交给抓取原语。失败时不重试，也不回退到原始 scheme。
func (i *Interceptor) Handle(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	start := time.Now()
	decision := DecisionPassed
	target := req
	if u, ok := Rewrite(req.URL); ok {
		decision = DecisionUpgraded
		target = upgradedRequest(req, u)
	}

	res, err := i.fetcher.Fetch(ctx, target)
	if err != nil {
		err = fmt.Errorf("%w: %s %s: %w", ErrFetch, target.Method, target.URL, err)
	}
	if i.observer != nil {
		i.observer.Observe(decision, time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// upgradedRequest 以 URL 新建请求，仅保留宿主用于关联的 ID 与资源类型
func upgradedRequest(req *traffic.Request, u string) *traffic.Request {
	out := traffic.NewRequest()
	out.ID = req.ID
	out.URL = u
	out.ResourceType = req.ResourceType
	return out
}
