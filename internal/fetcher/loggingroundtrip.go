package fetcher

import (
	"net/http"
	"time"

	"cdpupgrade/internal/logger"
)

// LoggingRoundTripper 在 debug 级别记录每次往返
type LoggingRoundTripper struct {
	Proxied http.RoundTripper
	log     logger.Logger
}

func (lrt *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	lrt.log.Debug("发送上游请求", "method", req.Method, "url", req.URL.String())

	res, err := lrt.Proxied.RoundTrip(req)
	if err != nil {
		lrt.log.Err(err, "上游请求失败", "url", req.URL.String(), "duration", time.Since(start).String())
		return nil, err
	}
	lrt.log.Debug("收到上游响应", "url", req.URL.String(), "status", res.StatusCode, "duration", time.Since(start).String())
	return res, nil
}
