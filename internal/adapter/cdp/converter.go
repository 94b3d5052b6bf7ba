package cdp

import (
	"sort"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/tidwall/gjson"

	"cdpupgrade/pkg/traffic"
)

// ToNeutralRequest 将 CDP 拦截事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	if ev.Request.Method != "" {
		req.Method = ev.Request.Method
	}
	req.ResourceType = string(ev.ResourceType)

	// Headers 为 JSON 对象，值可能不是字符串
	if len(ev.Request.Headers) > 0 {
		gjson.ParseBytes(ev.Request.Headers).ForEach(func(k, v gjson.Result) bool {
			req.Headers.Set(k.String(), v.String())
			return true
		})
	}

	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToFulfillArgs 将中立 Response 转换为 Fetch.fulfillRequest 参数
func ToFulfillArgs(id fetch.RequestID, res *traffic.Response) *fetch.FulfillRequestArgs {
	args := fetch.NewFulfillRequestArgs(id, res.StatusCode)
	args.ResponseHeaders = ToHeaderEntries(res.Headers)
	if res.StatusText != "" {
		args.SetResponsePhrase(res.StatusText)
	}
	if len(res.Body) > 0 {
		args.Body = res.Body
	}
	return args
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，按名称排序。
// 以换行分隔的多值头部拆分为多个条目。
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range keys {
		for _, v := range strings.Split(h[k], "\n") {
			entries = append(entries, fetch.HeaderEntry{Name: k, Value: v})
		}
	}
	return entries
}
