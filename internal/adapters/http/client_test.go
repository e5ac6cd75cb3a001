package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ohmynofan/netease-music-bot/internal/domain/model"
)

func newTestClient(t *testing.T, srv *httptest.Server, cookie string) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:    srv.URL,
		Cookie:     cookie,
		RetryDelay: time.Millisecond,
		Timeout:    2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestCallEncryptedPostSendsOnlyEnvelopeFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/weapi/point/dailyTask", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.Len(t, r.PostForm, 2)
		assert.NotEmpty(t, r.PostForm.Get("params"))
		assert.Regexp(t, `^[0-9a-f]{256}$`, r.PostForm.Get("encSecKey"))
		writeJSON(w, map[string]any{"code": 200, "point": 2})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodPost, "/weapi/point/dailyTask", map[string]any{"type": 1}, true)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, float64(2), res.Field("point"))
	assert.NoError(t, res.Err())
}

func TestCallPlainPostSendsFormFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "abc", r.PostForm.Get("id"))
		assert.Empty(t, r.PostForm.Get("params"))
		writeJSON(w, map[string]any{"code": 200})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodPost, "/api/plain", map[string]string{"id": "abc"}, false)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, res.Code)
}

func TestCallGetCarriesNoBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, int64(0), r.ContentLength)
		assert.Empty(t, r.Header.Get("Content-Type"))
		assert.Equal(t, "MUSIC_U=abc; __csrf=tok", r.Header.Get("Cookie"))
		writeJSON(w, map[string]any{"code": 200, "profile": map[string]any{"nickname": "n"}})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "MUSIC_U=abc; __csrf=tok").Call(context.Background(), http.MethodGet, "/api/v1/user/detail/1", map[string]any{"ignored": true}, true)
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NotNil(t, res.Field("profile"))
}

func TestCallRetriesTransportFailuresThenReports500(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodPost, "/weapi/x", map[string]any{"a": 1}, true)
	require.NoError(t, err)
	assert.Equal(t, CodeTransport, res.Code)
	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
	assert.Error(t, res.Err())
}

func TestCallRecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"code": 200})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodGet, "/api/ok", nil, false)
	require.NoError(t, err)
	assert.Equal(t, CodeOK, res.Code)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCallNonJSONBodyReportsMinusOne(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>blocked</html>"))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodGet, "/api/html", nil, false)
	require.NoError(t, err)
	assert.Equal(t, CodeNonJSON, res.Code)
	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
}

func TestCallBodyWithoutCodeIsNonJSON(t *testing.T) {
	for name, body := range map[string]string{
		"missing code":  `{"message":"blocked by risk control"}`,
		"textual code":  `{"code":"abc"}`,
		"null code":     `{"code":null}`,
		"fraction code": `{"code":200.5}`,
	} {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodGet, "/api/blocked", nil, false)
			require.NoError(t, err)
			assert.Equal(t, CodeNonJSON, res.Code)
			assert.False(t, res.OK())
			assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
		})
	}
}

func TestCallNumericStringCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"301"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodGet, "/api/str", nil, false)
	require.NoError(t, err)
	assert.True(t, res.SessionExpired())
}

func TestCallUnreachableHostReports500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, RetryDelay: time.Millisecond, Timeout: time.Second}, nil)
	require.NoError(t, err)

	res, err := c.Call(context.Background(), http.MethodGet, "/api/down", nil, false)
	require.NoError(t, err)
	assert.Equal(t, CodeTransport, res.Code)
}

func TestCallSessionExpiredIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, map[string]any{"code": 301, "msg": "需要登录"})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "MUSIC_U=old").Call(context.Background(), http.MethodPost, "/weapi/point/dailyTask", map[string]any{"type": 1}, true)
	require.NoError(t, err)
	assert.True(t, res.SessionExpired())
	assert.ErrorIs(t, res.Err(), model.ErrSessionExpired)
	assert.Equal(t, "需要登录", res.Message)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCallDomainFailureKeepsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 250, "message": "risk"})
	}))
	defer srv.Close()

	res, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodPost, "/weapi/login/cellphone", map[string]any{"phone": "1"}, true)
	require.NoError(t, err)

	var codeErr *CodeError
	require.True(t, errors.As(res.Err(), &codeErr))
	assert.Equal(t, 250, codeErr.Code)
	assert.Equal(t, "risk", res.Message)
}

func TestCallReturnsErrorOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": 200})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newTestClient(t, srv, "").Call(ctx, http.MethodGet, "/api/x", nil, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestCallReturnsCodecErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "").Call(context.Background(), http.MethodPost, "/weapi/x", map[string]any{"bad": make(chan int)}, true)
	assert.ErrorIs(t, err, model.ErrCodec)
}

func TestSetCookieIsMergedIntoCookieString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "MUSIC_U", Value: "fresh", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "__csrf", Value: "csrf123", Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "NMTID", Value: "", MaxAge: -1})
		writeJSON(w, map[string]any{"code": 200})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "NMTID=old; MUSIC_U=stale")
	_, err := c.Call(context.Background(), http.MethodGet, "/api/x", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "MUSIC_U=fresh; __csrf=csrf123", c.CookieString())
	assert.Equal(t, "csrf123", c.CSRFToken())
}

func TestCSRFTokenFallbackIsStable(t *testing.T) {
	c, err := NewClient(Options{}, nil)
	require.NoError(t, err)

	first := c.CSRFToken()
	assert.Regexp(t, `^[0-9a-f]{32}$`, first)
	assert.Equal(t, first, c.CSRFToken())
	assert.False(t, c.HasCookies())
}

func TestDownloadReturnsBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	data, err := newTestClient(t, srv, "").Download(context.Background(), srv.URL+"/bg.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)
}
