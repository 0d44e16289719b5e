package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"mailingest-engine/internal/domain"
)

type staticTokens struct{ calls atomic.Int32 }

func (s *staticTokens) Token(context.Context) (*oauth2.Token, error) {
	s.calls.Add(1)
	return &oauth2.Token{AccessToken: "test-token", Expiry: time.Now().Add(time.Hour)}, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testOptions(base string) Options {
	return Options{BaseURL: base, MaxRetries: 2, RetryBaseDelay: time.Millisecond}
}

func TestMessages_FollowsNextLinkAcrossThreePages(t *testing.T) {
	var srv *httptest.Server
	var hits atomic.Int32
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/users/ops@example.com/mailFolders('Inbox')/messages":
			writeJSON(w, map[string]any{
				"value":           []map[string]any{{"id": "m1"}, {"id": "m2"}},
				"@odata.nextLink": srv.URL + "/page2",
			})
		case "/page2":
			writeJSON(w, map[string]any{
				"value":           []map[string]any{{"id": "m3"}},
				"@odata.nextLink": srv.URL + "/page3",
			})
		case "/page3":
			writeJSON(w, map[string]any{
				"value": []map[string]any{{"id": "m4"}, {"id": "m5"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	p := c.Messages("ops@example.com")

	var ids []string
	for p.HasNext() {
		page, err := p.Next(context.Background())
		require.NoError(t, err)
		for _, m := range page {
			ids = append(ids, m.ID)
		}
	}

	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, ids)
	assert.Equal(t, 3, p.Pages())
	assert.EqualValues(t, 3, hits.Load())

	_, err := p.Next(context.Background())
	assert.ErrorIs(t, err, ErrNoMorePages)
}

func TestMessagesURL_IncludesTop(t *testing.T) {
	opts := testOptions("https://graph.example/v1.0/")
	opts.PageSize = 25
	c := NewClient(&staticTokens{}, opts)

	u := c.MessagesURL("ops@example.com")
	assert.True(t, strings.HasPrefix(u, "https://graph.example/v1.0/users/ops@example.com/mailFolders('Inbox')/messages?$select="))
	assert.True(t, strings.HasSuffix(u, "&$top=25"))
}

func TestGetJSON_RetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"value": []map[string]any{{"id": "a1", "name": "r.html"}}})
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	atts, err := c.AllAttachments(context.Background(), "ops@example.com", "m1")

	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "r.html", atts[0].Name)
	assert.EqualValues(t, 3, hits.Load())
}

func TestGetJSON_GivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	_, err := c.Messages("ops@example.com").Next(context.Background())

	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.EqualValues(t, 3, hits.Load())
}

func TestGetJSON_DoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":{"code":"ErrorItemNotFound"}}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	_, err := c.AllAttachments(context.Background(), "ops@example.com", "gone")

	assert.ErrorIs(t, err, domain.ErrFetch)
	assert.Contains(t, err.Error(), "ErrorItemNotFound")
	assert.EqualValues(t, 1, hits.Load())
}

func TestGetJSON_UnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	_, err := c.Messages("ops@example.com").Next(context.Background())

	assert.ErrorIs(t, err, domain.ErrAuth)
}

func TestGetJSON_BadBodyIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	_, err := c.Messages("ops@example.com").Next(context.Background())

	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestPairs_SkipsMessagesWithoutAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			writeJSON(w, map[string]any{"value": []map[string]any{
				{"id": "m1", "hasAttachments": true},
				{"id": "m2", "hasAttachments": false},
				{"id": "m3", "hasAttachments": true},
			}})
		case strings.HasSuffix(r.URL.Path, "/m2/attachments"):
			t.Errorf("attachments requested for message without attachments")
		case strings.HasSuffix(r.URL.Path, "/attachments"):
			id := strings.Split(r.URL.Path, "/")[4]
			writeJSON(w, map[string]any{"value": []map[string]any{
				{"name": id + "-a"}, {"name": id + "-b"},
			}})
		}
	}))
	defer srv.Close()

	c := NewClient(&staticTokens{}, testOptions(srv.URL))
	var got []string
	err := c.Pairs(context.Background(), "ops@example.com", func(m Message, a Attachment) error {
		got = append(got, fmt.Sprintf("%s/%s", m.ID, a.Name))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"m1/m1-a", "m1/m1-b", "m3/m3-a", "m3/m3-b"}, got)
}

func TestAttachment_Helpers(t *testing.T) {
	a := Attachment{
		ODataType:    FileAttachmentType,
		Name:         "Report.HTML",
		ContentBytes: base64.StdEncoding.EncodeToString([]byte("<table></table>")),
	}
	assert.True(t, a.IsFile())
	assert.True(t, a.IsHTML())

	b, err := a.Content()
	require.NoError(t, err)
	assert.Equal(t, "<table></table>", string(b))

	item := Attachment{ODataType: "#microsoft.graph.itemAttachment", Name: "fwd.msg"}
	assert.False(t, item.IsFile())
	assert.False(t, item.IsHTML())

	assert.True(t, Attachment{ContentType: "text/html; charset=utf-8"}.IsHTML())

	_, err = Attachment{Name: "x", ContentBytes: "!!not base64"}.Content()
	assert.ErrorIs(t, err, domain.ErrMalformedAttachment)
}

func TestBackoff_Delay(t *testing.T) {
	b := newBackoff(5, 100*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b.delay(1))
	assert.Equal(t, 200*time.Millisecond, b.delay(2))
	assert.Equal(t, 400*time.Millisecond, b.delay(3))
	assert.Equal(t, 1600*time.Millisecond, b.delay(10))
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(h))
	h.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, retryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Zero(t, retryAfter(h))
}
