package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cdpupgrade/internal/cdp"
	"cdpupgrade/internal/fetcher"
	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/session"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/domain"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	opTimeout      = 10 * time.Second
	eventsCapacity = 1024
)

// Option 服务选项
type Option func(*Service)

// WithFetcher 指定抓取原语，默认使用 fetcher.HTTPFetcher
func WithFetcher(f upgrade.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithObserver 指定拦截结果观察者
func WithObserver(o upgrade.Observer) Option {
	return func(s *Service) { s.observer = o }
}

// Service api.Service 的实现，每个会话对应一个 DevTools 连接
type Service struct {
	sessions *session.Manager
	fetcher  upgrade.Fetcher
	observer upgrade.Observer
	log      logger.Logger
}

// New 创建服务实现
func New(l logger.Logger, opts ...Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	s := &Service{sessions: session.NewManager(l), log: l}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = fetcher.New(fetcher.Options{Logger: l})
	}
	return s
}

func (s *Service) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	if cfg.DevToolsURL == "" {
		return "", errors.New("devtools url is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = 256
	}
	id := domain.SessionID(uuid.NewString())
	events := make(chan domain.InterceptEvent, eventsCapacity)
	mgr := cdp.New(cdp.Options{
		DevToolsURL:     cfg.DevToolsURL,
		Session:         id,
		Fetcher:         s.fetcher,
		Observer:        s.observer,
		Events:          events,
		Concurrency:     cfg.Concurrency,
		PendingCapacity: cfg.PendingCapacity,
		ProcessTimeout:  cfg.ProcessTimeout,
		Logger:          s.log.With("sessionID", string(id)),
	})
	s.sessions.Register(session.New(id, cfg, mgr, events))
	return id, nil
}

func (s *Service) StopSession(id domain.SessionID) error {
	sess, ok := s.sessions.Delete(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess.Manager.Close()
	return nil
}

// Shutdown 按创建顺序停止全部会话，返回停止的会话数
func (s *Service) Shutdown() int {
	list := s.sessions.List()
	for _, sess := range list {
		if _, ok := s.sessions.Delete(sess.ID); ok {
			sess.Manager.Close()
		}
	}
	if len(list) > 0 {
		s.log.Info("已停止全部会话", "count", len(list))
	}
	return len(list)
}

func (s *Service) AttachTarget(id domain.SessionID, target domain.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return sess.Manager.AttachTarget(ctx, target)
}

func (s *Service) DetachTarget(id domain.SessionID, target domain.TargetID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	return sess.Manager.DetachTarget(target)
}

func (s *Service) ListTargets(id domain.SessionID) ([]domain.TargetInfo, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return sess.Manager.ListTargets(ctx)
}

func (s *Service) EnableInterception(id domain.SessionID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return sess.Manager.Enable(ctx)
}

func (s *Service) DisableInterception(id domain.SessionID) error {
	sess, err := s.get(id)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return sess.Manager.Disable(ctx)
}

func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan domain.InterceptEvent, error) {
	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events, nil
}

func (s *Service) get(id domain.SessionID) (*session.Session, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return sess, nil
}
