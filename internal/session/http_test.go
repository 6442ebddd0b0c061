package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestSession(t *testing.T, srv *httptest.Server, loginPath, cookie string) *HTTPSession {
	t.Helper()
	s, err := NewHTTPSession(srv.URL, loginPath, cookie, arbor.NewLogger())
	require.NoError(t, err)
	return s
}

func TestHTTPSessionCookieOnEveryHop(t *testing.T) {
	var hops atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		hops.Add(1)
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		hops.Add(1)
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		hops.Add(1)
		fmt.Fprint(w, "done")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestSession(t, srv, "/login", "session=abc")
	resp, body, err := s.Get(context.Background(), "/start")
	require.NoError(t, err)
	assert.Equal(t, "done", string(body))
	assert.Equal(t, "/end", resp.Request.URL.Path)
	assert.Equal(t, int32(3), hops.Load())
}

func TestHTTPSessionRedirectLoop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/a", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestSession(t, srv, "/login", "")
	_, _, err := s.Get(context.Background(), "/a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Contains(t, err.Error(), "redirect loop")
}

func TestHTTPSessionLoginRedirectMeansExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/auth/login?next=%2Fservers", http.StatusFound)
	}))
	defer srv.Close()

	s := newTestSession(t, srv, "/auth/login", "session=stale")
	_, _, err := s.Get(context.Background(), "/servers")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestHTTPSessionRedirectWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	_, _, err := s.Get(context.Background(), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHTTPSessionServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	_, _, err := s.Get(context.Background(), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
}

func TestHTTPSessionGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	var out struct {
		Ok bool `json:"ok"`
	}
	require.NoError(t, s.GetJSON(context.Background(), "/api", &out))
	assert.True(t, out.Ok)
}

func TestHTTPSessionGetJSONAcceptSurvivesRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		http.Redirect(w, r, "/api/v2", http.StatusFound)
	})
	mux.HandleFunc("/api/v2", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		fmt.Fprint(w, `{"ok":true}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	var out struct {
		Ok bool `json:"ok"`
	}
	require.NoError(t, s.GetJSON(context.Background(), "/api", &out))
	assert.True(t, out.Ok)
}

func TestHTTPSessionGetJSONRejectsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	var out map[string]any
	err := s.GetJSON(context.Background(), "/api", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestHTTPSessionPostFormDegradesToGet(t *testing.T) {
	var methods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		http.Redirect(w, r, "/result", http.StatusFound)
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		fmt.Fprint(w, "landed")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestSession(t, srv, "", "")
	resp, body, err := s.PostForm(context.Background(), "/submit", url.Values{"k": {"v"}})
	require.NoError(t, err)
	assert.Equal(t, "landed", string(body))
	assert.Equal(t, "/result", resp.Request.URL.Path)
	assert.Equal(t, []string{http.MethodPost, http.MethodGet}, methods)
}
