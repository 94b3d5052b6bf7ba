package cdp

import (
	"context"
	"errors"
	"sync"

	"github.com/mafredri/cdp/protocol/fetch"
)

// fakeFetch 记录对 Fetch 域的调用
type fakeFetch struct {
	mu        sync.Mutex
	enabled   []*fetch.EnableArgs
	disabled  int
	fulfilled []*fetch.FulfillRequestArgs
	failed    []*fetch.FailRequestArgs
	stream    *fakeStream
}

func (f *fakeFetch) Enable(ctx context.Context, args *fetch.EnableArgs) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, args)
	return nil
}

func (f *fakeFetch) Disable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled++
	return nil
}

func (f *fakeFetch) RequestPaused(context.Context) (fetch.RequestPausedClient, error) {
	if f.stream == nil {
		return nil, errors.New("no stream")
	}
	return f.stream, nil
}

func (f *fakeFetch) FulfillRequest(_ context.Context, args *fetch.FulfillRequestArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfilled = append(f.fulfilled, args)
	return nil
}

func (f *fakeFetch) FailRequest(_ context.Context, args *fetch.FailRequestArgs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, args)
	return nil
}

func (f *fakeFetch) counts() (fulfilled, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fulfilled), len(f.failed)
}

// fakeStream 依次返回预置事件，耗尽后返回 err
type fakeStream struct {
	fetch.RequestPausedClient
	events []*fetch.RequestPausedReply
	err    error
	closed bool
}

func (s *fakeStream) Recv() (*fetch.RequestPausedReply, error) {
	if len(s.events) == 0 {
		return nil, s.err
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}
