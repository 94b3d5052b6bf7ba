// Package metrics 拦截结果的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/upgrade"
)

// Metrics 实现 upgrade.Observer
type Metrics struct {
	Intercepted   *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Intercepted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdpupgrade",
				Name:      "intercepted_total",
				Help:      "Total number of intercepted requests",
			},
			[]string{"decision"}, // decision=upgraded/passed
		),
		FetchFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cdpupgrade",
				Name:      "fetch_failures_total",
				Help:      "Total number of delegated fetches that failed",
			},
			[]string{"decision"},
		),
		FetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cdpupgrade",
				Name:      "fetch_duration_seconds",
				Help:      "Delegated fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"decision"},
		),
	}
}

var _ upgrade.Observer = (*Metrics)(nil)

// Observe 记录一次拦截结果
func (m *Metrics) Observe(d upgrade.Decision, elapsed time.Duration, err error) {
	m.Intercepted.WithLabelValues(string(d)).Inc()
	m.FetchDuration.WithLabelValues(string(d)).Observe(elapsed.Seconds())
	if err != nil {
		m.FetchFailures.WithLabelValues(string(d)).Inc()
	}
}

// Serve 在 addr 上暴露 /metrics，直到 ctx 结束
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, l logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	l.Info("指标服务已启动", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
