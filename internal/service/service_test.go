package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cdpupgrade/internal/cdp"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/domain"
	"cdpupgrade/pkg/traffic"
)

var nopFetcher = upgrade.FetcherFunc(func(context.Context, *traffic.Request) (*traffic.Response, error) {
	return traffic.NewResponse(), nil
})

func TestService_SessionLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(nil, WithFetcher(nopFetcher))
	_, err := s.StartSession(domain.SessionConfig{})
	assert.Error(t, err)

	id, err := s.StartSession(domain.SessionConfig{DevToolsURL: "http://127.0.0.1:9222"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, err := s.SubscribeEvents(id)
	require.NoError(t, err)
	assert.ErrorIs(t, s.EnableInterception(id), cdp.ErrNotAttached)

	require.NoError(t, s.StopSession(id))
	_, open := <-events
	assert.False(t, open)

	assert.ErrorIs(t, s.StopSession(id), ErrSessionNotFound)
	_, err = s.SubscribeEvents(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.AttachTarget(id, ""), ErrSessionNotFound)
	assert.ErrorIs(t, s.DisableInterception(id), ErrSessionNotFound)
}

func TestService_ShutdownStopsEverySession(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(nil, WithFetcher(nopFetcher))
	var subs []<-chan domain.InterceptEvent
	var ids []domain.SessionID
	for i := 0; i < 3; i++ {
		id, err := s.StartSession(domain.SessionConfig{DevToolsURL: "http://127.0.0.1:9222", Concurrency: 2})
		require.NoError(t, err)
		events, err := s.SubscribeEvents(id)
		require.NoError(t, err)
		ids = append(ids, id)
		subs = append(subs, events)
	}

	assert.Equal(t, 3, s.Shutdown())
	for _, events := range subs {
		_, open := <-events
		assert.False(t, open)
	}
	for _, id := range ids {
		assert.ErrorIs(t, s.StopSession(id), ErrSessionNotFound)
	}
	assert.Zero(t, s.Shutdown())
}

func TestService_ListTargets(t *testing.T) {
	devtools := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"P1","type":"page","title":"Example","url":"http://example.com/","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/page/P1"},
			{"id":"W1","type":"service_worker","title":"sw","url":"https://example.com/sw.js","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/page/W1"}
		]`))
	}))
	defer devtools.Close()

	s := New(nil, WithFetcher(nopFetcher))
	id, err := s.StartSession(domain.SessionConfig{DevToolsURL: devtools.URL})
	require.NoError(t, err)
	defer s.StopSession(id)

	targets, err := s.ListTargets(id)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, domain.TargetID("P1"), targets[0].ID)
	assert.Equal(t, "Example", targets[0].Title)
	assert.False(t, targets[0].IsCurrent)
}
