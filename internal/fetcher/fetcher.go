// Package fetcher 基于 net/http 的抓取原语实现。
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cdpupgrade/internal/logger"
	"cdpupgrade/pkg/traffic"
)

// DefaultMaxBodyBytes 响应体读取上限
const DefaultMaxBodyBytes int64 = 64 << 20

// hopHeaders 逐跳头部及浏览器伪头部，不转发给上游
var hopHeaders = map[string]bool{
	"connection":          true,
	"proxy-connection":    true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
}

// Options HTTPFetcher 选项
type Options struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	Logger       logger.Logger
	Transport    http.RoundTripper
}

// HTTPFetcher 使用 http.Client 发起请求，不跟随重定向
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
}

// New 创建 HTTPFetcher
func New(opts Options) *HTTPFetcher {
	var transport http.RoundTripper = opts.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.Logger != nil {
		transport = &LoggingRoundTripper{Proxied: transport, log: opts.Logger}
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			// 重定向原样交还宿主
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBody: maxBody,
	}
}

// Fetch 执行一次请求并完整读取响应体
func (f *HTTPFetcher) Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		lk := strings.ToLower(k)
		// 交由 Transport 协商压缩并透明解压，回写的响应体即为明文
		if hopHeaders[lk] || lk == "accept-encoding" || strings.HasPrefix(k, ":") {
			continue
		}
		hreq.Header.Set(k, v)
	}

	hres, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hres.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hres.Body, f.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", f.maxBody)
	}

	res := traffic.NewResponse()
	res.StatusCode = hres.StatusCode
	res.StatusText = http.StatusText(hres.StatusCode)
	for k, vs := range hres.Header {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		res.Headers.Set(k, strings.Join(vs, ", "))
	}
	// Set-Cookie 不能用逗号合并
	if cookies := hres.Header.Values("Set-Cookie"); len(cookies) > 1 {
		res.Headers.Set("Set-Cookie", strings.Join(cookies, "\n"))
	}
	res.Body = data
	return res, nil
}
