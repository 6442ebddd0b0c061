package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/keepalive/internal/models"
	"github.com/ternarybob/keepalive/internal/session"
)

const katabumpEditPage = `<html><body>
<form method="post"><input type="hidden" name="_token" value="tok-123"></form>
<div>Expires in 1D 4H 30M</div>
</body></html>`

func newKatabumpFixture(t *testing.T, handler http.Handler) (*katabump, *Session) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hs, err := session.NewHTTPSession(srv.URL, katabumpLoginPath, "session=abc", arbor.NewLogger())
	require.NoError(t, err)

	p := &katabump{opts: Options{Logger: arbor.NewLogger()}, logger: arbor.NewLogger()}
	return p, &Session{HTTP: hs}
}

func TestKatabumpRenewSuccess(t *testing.T) {
	renewed := false
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		if renewed {
			fmt.Fprint(w, `<html><body><div>Expires in 3D 4H 30M</div></body></html>`)
			return
		}
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "tok-123", r.PostForm.Get("_token"))
		assert.Equal(t, "session=abc", r.Header.Get("Cookie"))
		renewed = true
		http.Redirect(w, r, "/server/edit?id=42&renew=success", http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42", Name: "srv", ShortID: "42", Active: true}
	old := models.ExpiryInfo{Display: "1天4时30分", Days: 1.1875}

	outcome, err := p.Renew(context.Background(), s, server, old)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRenewed, outcome.Kind)
	assert.Equal(t, "1天4时30分", outcome.OldExpiry.Display)
	assert.Equal(t, "3天4时30分", outcome.NewExpiry.Display)
}

func TestKatabumpRenewUnreadableExpiry(t *testing.T) {
	renewed := false
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		if renewed {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		renewed = true
		http.Redirect(w, r, "/server/edit?id=42&renew=success", http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}
	old := models.ExpiryInfo{Display: "1天4时30分", Days: 1.1875}

	outcome, err := p.Renew(context.Background(), s, server, old)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnknown, outcome.Kind, "a renewal with an unreadable new expiry must not report Renewed")
	assert.NotEqual(t, models.OutcomeRenewed, outcome.Kind)
}

func TestKatabumpRenewExpiryUnchanged(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/server/edit?id=42&renew=success", http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}
	old := models.ExpiryInfo{Display: "1天4时30分", Days: 1.1875}

	outcome, err := p.Renew(context.Background(), s, server, old)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnknown, outcome.Kind, "an expiry that did not move forward must not report Renewed")
}

func TestKatabumpRenewNotYet(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		msg := url.QueryEscape("You can't renew your server yet")
		http.Redirect(w, r, "/server/edit?id=42&renew-error="+msg, http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}

	outcome, err := p.Renew(context.Background(), s, server, models.UnknownExpiry)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotYet, outcome.Kind)
	assert.Contains(t, outcome.Message, "can't renew")
}

func TestKatabumpRenewRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/server/edit?id=42&renew-error=Server+suspended", http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}

	outcome, err := p.Renew(context.Background(), s, server, models.UnknownExpiry)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenewalRejected)
	assert.Equal(t, models.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Message, "Server suspended")
}

func TestKatabumpRenewErrorKeepsLiteralChars(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/edit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, katabumpEditPage)
	})
	mux.HandleFunc("/api-client/renew", func(w http.ResponseWriter, r *http.Request) {
		msg := url.QueryEscape("Quota 50% used, upgrade to 1+ slots")
		http.Redirect(w, r, "/server/edit?id=42&renew-error="+msg, http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}

	outcome, err := p.Renew(context.Background(), s, server, models.UnknownExpiry)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenewalRejected)
	assert.Contains(t, outcome.Message, "50% used", "percent signs survive a single decode")
	assert.Contains(t, outcome.Message, "1+ slots", "literal plus signs are not decoded twice")
}

func TestKatabumpExpiredSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, katabumpLoginPath, http.StatusFound)
	})

	p, s := newKatabumpFixture(t, mux)
	server := models.ServerRecord{ID: "42"}

	_, err := p.FetchExpiry(context.Background(), s, server)
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestKatabumpFixedServerID(t *testing.T) {
	p := &katabump{opts: Options{ServerID: "77", Logger: arbor.NewLogger()}, logger: arbor.NewLogger()}

	servers, err := p.DiscoverServers(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "77", servers[0].ID)
}

func TestKatabumpDiscoverServers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/servers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><table><tbody>
<tr data-server-id="11"><td class="server-name">alpha</td><td class="server-status">Running</td></tr>
<tr data-server-id="12"><td class="server-name">beta</td><td class="server-status">Suspended</td></tr>
</tbody></table></body></html>`)
	})

	p, s := newKatabumpFixture(t, mux)

	servers, err := p.DiscoverServers(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)
	assert.True(t, servers[0].Active)
	assert.False(t, servers[1].Active)
}
