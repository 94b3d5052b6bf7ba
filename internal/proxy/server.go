// Package proxy 以 HTTP 正向代理的形式承载拦截器。
package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cdpupgrade/internal/logger"
	"cdpupgrade/pkg/traffic"
)

// requestHandler 由 upgrade.Interceptor 实现
type requestHandler interface {
	Handle(ctx context.Context, req *traffic.Request) (*traffic.Response, error)
}

// Server 正向代理：明文请求经拦截器处理，CONNECT 隧道原样转发
type Server struct {
	addr        string
	handler     requestHandler
	log         logger.Logger
	dialTimeout time.Duration
	maxBody     int64

	wg      sync.WaitGroup
	mu      sync.Mutex
	tunnels map[net.Conn]struct{}
}

// Options Server 选项
type Options struct {
	Addr         string
	Handler      requestHandler
	Logger       logger.Logger
	DialTimeout  time.Duration
	MaxBodyBytes int64
}

// New 创建代理服务
func New(opts Options) *Server {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	dt := opts.DialTimeout
	if dt <= 0 {
		dt = 10 * time.Second
	}
	mb := opts.MaxBodyBytes
	if mb <= 0 {
		mb = 64 << 20
	}
	return &Server{
		addr:        opts.Addr,
		handler:     opts.Handler,
		log:         l,
		dialTimeout: dt,
		maxBody:     mb,
		tunnels:     make(map[net.Conn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.tunnel(w, r)
		return
	}
	if !r.URL.IsAbs() {
		http.Error(w, "proxy requires an absolute request URI", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.maxBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	req := traffic.NewRequest()
	req.ID = uuid.NewString()
	// 使用请求行中的原始 URI，r.URL.String() 会重新转义字节
	req.URL = r.RequestURI
	req.Method = r.Method
	for k, vs := range r.Header {
		req.Headers.Set(k, strings.Join(vs, ", "))
	}
	if len(body) > 0 {
		req.Body = body
	}
	l := s.log.With("requestID", req.ID)

	res, err := s.handler.Handle(r.Context(), req)
	if err != nil {
		l.Warn("代理请求抓取失败", "url", req.URL, "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	h := w.Header()
	for k, v := range res.Headers {
		for _, line := range strings.Split(v, "\n") {
			h.Add(k, line)
		}
	}
	w.WriteHeader(res.StatusCode)
	if _, err := w.Write(res.Body); err != nil {
		l.Debug("写回响应失败", "error", err.Error())
	}
	l.Debug("代理请求完成", "url", req.URL, "status", res.StatusCode)
}

// tunnel 已加密的 CONNECT 隧道不经拦截器，直接双向转发
func (s *Server) tunnel(w http.ResponseWriter, r *http.Request) {
	upstream, err := net.DialTimeout("tcp", r.Host, s.dialTimeout)
	if err != nil {
		s.log.Warn("隧道连接上游失败", "host", r.Host, "error", err.Error())
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	hj, ok := w.(http.Hijacker)
	if !ok {
		upstream.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	client, _, err := hj.Hijack()
	if err != nil {
		upstream.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		client.Close()
		upstream.Close()
		return
	}

	s.track(client, upstream)
	s.wg.Add(2)
	go s.splice(upstream, client)
	go s.splice(client, upstream)
}

func (s *Server) splice(dst, src net.Conn) {
	defer s.wg.Done()
	_, _ = io.Copy(dst, src)
	dst.Close()
	src.Close()
	s.mu.Lock()
	delete(s.tunnels, dst)
	delete(s.tunnels, src)
	s.mu.Unlock()
}

func (s *Server) track(conns ...net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conns {
		s.tunnels[c] = struct{}{}
	}
}

// closeTunnels 关闭仍在转发的隧道，Shutdown 不处理被劫持的连接
func (s *Server) closeTunnels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.tunnels {
		c.Close()
	}
}

// ListenAndServe 监听并服务直到 ctx 结束
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定监听器上服务直到 ctx 结束，随后优雅关闭并等待隧道退出
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("代理服务已启动", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	s.closeTunnels()
	s.wg.Wait()
	s.log.Info("代理服务已停止")
	return err
}
