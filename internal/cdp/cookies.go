package cdp

import (
	"context"
	"strings"

	"github.com/mafredri/cdp/protocol/network"

	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/traffic"
)

// cookieGetter cdp.Network 的子集
type cookieGetter interface {
	GetCookies(ctx context.Context, args *network.GetCookiesArgs) (*network.GetCookiesReply, error)
}

// cookieFetcher 在抓取前附加浏览器中属于最终 URL 的 Cookie。
// 拦截事件中的请求头不含网络栈稍后附加的 Cookie。
type cookieFetcher struct {
	next    upgrade.Fetcher
	cookies cookieGetter
	log     logger.Logger
}

func (f *cookieFetcher) Fetch(ctx context.Context, req *traffic.Request) (*traffic.Response, error) {
	if req.Headers.Get("cookie") != "" {
		return f.next.Fetch(ctx, req)
	}
	reply, err := f.cookies.GetCookies(ctx, network.NewGetCookiesArgs().SetURLs([]string{req.URL}))
	if err != nil {
		f.log.Debug("读取浏览器 Cookie 失败", "url", req.URL, "error", err.Error())
		return f.next.Fetch(ctx, req)
	}
	if len(reply.Cookies) == 0 {
		return f.next.Fetch(ctx, req)
	}

	pairs := make([]string, 0, len(reply.Cookies))
	for _, c := range reply.Cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	cp := *req
	cp.Headers = req.Headers.Clone()
	if cp.Headers == nil {
		cp.Headers = make(traffic.Header)
	}
	cp.Headers.Set("Cookie", strings.Join(pairs, "; "))
	return f.next.Fetch(ctx, &cp)
}
