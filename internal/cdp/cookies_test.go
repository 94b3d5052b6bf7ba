package cdp

import (
	"context"
	"errors"
	"testing"

	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/upgrade"
	"cdpupgrade/pkg/traffic"
)

type fakeCookies struct {
	urls    [][]string
	cookies []network.Cookie
	err     error
}

func (f *fakeCookies) GetCookies(_ context.Context, args *network.GetCookiesArgs) (*network.GetCookiesReply, error) {
	f.urls = append(f.urls, args.URLs)
	if f.err != nil {
		return nil, f.err
	}
	return &network.GetCookiesReply{Cookies: f.cookies}, nil
}

func TestCookieFetcher_AttachesCookiesForFinalURL(t *testing.T) {
	var got *traffic.Request
	next := upgrade.FetcherFunc(func(_ context.Context, req *traffic.Request) (*traffic.Response, error) {
		got = req
		return traffic.NewResponse(), nil
	})
	src := &fakeCookies{cookies: []network.Cookie{{Name: "sid", Value: "1"}, {Name: "lang", Value: "zh"}}}
	i := upgrade.New(&cookieFetcher{next: next, cookies: src, log: logger.NewNop()})

	req := traffic.NewRequest()
	req.URL = "http://example.com/"
	_, err := i.Handle(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"https://example.com/"}}, src.urls)
	assert.Equal(t, "sid=1; lang=zh", got.Headers.Get("cookie"))
	assert.Empty(t, req.Headers.Get("cookie"))
}

func TestCookieFetcher_KeepsExistingCookieHeader(t *testing.T) {
	src := &fakeCookies{}
	f := &cookieFetcher{
		next: upgrade.FetcherFunc(func(_ context.Context, req *traffic.Request) (*traffic.Response, error) {
			assert.Equal(t, "a=b", req.Headers.Get("cookie"))
			return traffic.NewResponse(), nil
		}),
		cookies: src,
		log:     logger.NewNop(),
	}
	req := traffic.NewRequest()
	req.URL = "https://example.com/"
	req.Headers.Set("Cookie", "a=b")
	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, src.urls)
}

func TestCookieFetcher_LookupFailureStillFetches(t *testing.T) {
	calls := 0
	f := &cookieFetcher{
		next: upgrade.FetcherFunc(func(context.Context, *traffic.Request) (*traffic.Response, error) {
			calls++
			return traffic.NewResponse(), nil
		}),
		cookies: &fakeCookies{err: errors.New("target closed")},
		log:     logger.NewNop(),
	}
	req := traffic.NewRequest()
	req.URL = "https://example.com/"
	_, err := f.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
