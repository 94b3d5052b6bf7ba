package upgrade

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpupgrade/pkg/traffic"
)

// recordingFetcher 记录每次抓取的 URL
type recordingFetcher struct {
	mu   sync.Mutex
	urls []string
	reqs []*traffic.Request
	res  *traffic.Response
	err  error
}

func (f *recordingFetcher) Fetch(_ context.Context, req *traffic.Request) (*traffic.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, req.URL)
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

type recordingObserver struct {
	decisions []Decision
	errs      []error
}

func (o *recordingObserver) Observe(d Decision, _ time.Duration, err error) {
	o.decisions = append(o.decisions, d)
	o.errs = append(o.errs, err)
}

func TestRewrite(t *testing.T) {
	cases := []struct {
		in       string
		want     string
		upgraded bool
	}{
		{"http://example.com/", "https://example.com/", true},
		{"http://example.com/a?x=http://y", "https://example.com/a?x=http://y", true},
		{"https://secure.example.com/", "https://secure.example.com/", false},
		{"HTTP://example.com/", "HTTP://example.com/", false},
		{"ftp://files.example.com/a", "ftp://files.example.com/a", false},
		{"/relative/path", "/relative/path", false},
		{"data:text/plain,http://x", "data:text/plain,http://x", false},
		{"", "", false},
		{"http://", "https://", true},
	}
	for _, tc := range cases {
		got, ok := Rewrite(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.Equal(t, tc.upgraded, ok, tc.in)
	}
}

func TestRewrite_KeepsRemainderByteForByte(t *testing.T) {
	for _, rest := range []string{"example.com", "a/b/c?d=%20e#frag", "h\x00st/\xff", "http://http://"} {
		u := "http://" + rest
		got, ok := Rewrite(u)
		require.True(t, ok)
		assert.Equal(t, "https://"+u[7:], got)
	}
}

func TestRewrite_IdempotentOnSecure(t *testing.T) {
	once, _ := Rewrite("http://example.com/x")
	twice, ok := Rewrite(once)
	assert.False(t, ok)
	assert.Equal(t, once, twice)
}

func TestHandle_UpgradesPlainRequest(t *testing.T) {
	want := traffic.NewResponse()
	f := &recordingFetcher{res: want}
	obs := &recordingObserver{}
	i := New(f, WithObserver(obs))

	req := traffic.NewRequest()
	req.ID = "r1"
	req.ResourceType = "Document"
	req.URL = "http://example.com/a?x=http://y"
	req.Headers.Set("Accept", "text/html")

	got, err := i.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, want, got)
	require.Len(t, f.urls, 1)
	assert.Equal(t, "https://example.com/a?x=http://y", f.urls[0])
	assert.NotSame(t, req, f.reqs[0])
	assert.Equal(t, "r1", f.reqs[0].ID)
	assert.Equal(t, "Document", f.reqs[0].ResourceType)
	assert.Empty(t, f.reqs[0].Headers)
	// 宿主持有的请求不被修改
	assert.Equal(t, "http://example.com/a?x=http://y", req.URL)
	assert.Equal(t, "text/html", req.Headers.Get("accept"))
	assert.Equal(t, []Decision{DecisionUpgraded}, obs.decisions)
}

func TestHandle_UpgradedFetchCarriesOnlyTheURL(t *testing.T) {
	f := &recordingFetcher{res: traffic.NewResponse()}
	i := New(f)

	req := traffic.NewRequest()
	req.URL = "http://plain.example/login"
	req.Method = "POST"
	req.Headers.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Headers.Set("Authorization", "Basic dTpw")
	req.Body = []byte("user=u&pass=p")

	_, err := i.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, f.reqs, 1)
	sent := f.reqs[0]
	assert.Equal(t, "https://plain.example/login", sent.URL)
	assert.Equal(t, "GET", sent.Method)
	assert.Empty(t, sent.Headers)
	assert.Nil(t, sent.Body)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, []byte("user=u&pass=p"), req.Body)
}

func TestHandle_PassedRequestKeepsMethodAndBody(t *testing.T) {
	f := &recordingFetcher{res: traffic.NewResponse()}
	i := New(f)

	req := traffic.NewRequest()
	req.URL = "https://secure.example/login"
	req.Method = "POST"
	req.Body = []byte("user=u")

	_, err := i.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, f.reqs, 1)
	assert.Equal(t, "POST", f.reqs[0].Method)
	assert.Equal(t, []byte("user=u"), f.reqs[0].Body)
}

func TestHandle_PassesOriginalRequestObject(t *testing.T) {
	f := &recordingFetcher{res: traffic.NewResponse()}
	i := New(f)

	req := traffic.NewRequest()
	req.URL = "https://secure.example.com/"

	_, err := i.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, f.reqs, 1)
	assert.Same(t, req, f.reqs[0])
}

func TestHandle_FailureDoesNotFallBack(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	f := &recordingFetcher{err: refused}
	obs := &recordingObserver{}
	i := New(f, WithObserver(obs))

	req := traffic.NewRequest()
	req.URL = "http://example.com/"

	res, err := i.Handle(context.Background(), req)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	var opErr *net.OpError
	assert.ErrorAs(t, err, &opErr)
	assert.Equal(t, []string{"https://example.com/"}, f.urls)
	require.Len(t, obs.errs, 1)
	assert.ErrorIs(t, obs.errs[0], ErrFetch)
}

func TestHandle_PropagatesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	i := New(FetcherFunc(func(ctx context.Context, _ *traffic.Request) (*traffic.Response, error) {
		return nil, ctx.Err()
	}))

	req := traffic.NewRequest()
	req.URL = "http://example.com/"
	_, err := i.Handle(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrFetch)
}

func TestHandle_ExactlyOneFetchPerEvent(t *testing.T) {
	var calls atomic.Int64
	i := New(FetcherFunc(func(context.Context, *traffic.Request) (*traffic.Response, error) {
		calls.Add(1)
		return traffic.NewResponse(), nil
	}))

	urls := []string{"http://a/", "https://b/", "ftp://c/", "relative"}
	var wg sync.WaitGroup
	for n := 0; n < 25; n++ {
		for _, u := range urls {
			wg.Add(1)
			go func(u string) {
				defer wg.Done()
				req := traffic.NewRequest()
				req.URL = u
				_, _ = i.Handle(context.Background(), req)
			}(u)
		}
	}
	wg.Wait()
	assert.EqualValues(t, 25*len(urls), calls.Load())
}
