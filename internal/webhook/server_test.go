package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key")

func sign(body []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ctxOK  bool
}

func (r *recorder) handle(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	r.ctxOK = hasDeadline
	r.events = append(r.events, event)
	return nil
}

func newTestServer() (*Server, *recorder) {
	rec := &recorder{}
	router := NewRouter()
	router.Register("pull_request", "closed", rec.handle)
	return NewServer(router, Options{Secret: testSecret, HomepageURL: "https://example.com/showcaser"}), rec
}

func post(t *testing.T, s *Server, event string, body []byte, signature string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if event != "" {
		req.Header.Set("X-GitHub-Event", event)
	}
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestIndex(t *testing.T) {
	s, _ := newTestServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "https://example.com/showcaser")
}

func TestWebhookDispatchesRegisteredRoute(t *testing.T) {
	s, rec := newTestServer()
	body := []byte(`{"action":"closed","pull_request":{"merged":true}}`)

	w := post(t, s, "pull_request", body, sign(body), map[string]string{"X-GitHub-Delivery": "delivery-1"})
	s.Wait()

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "pull_request", rec.events[0].Name)
	assert.Equal(t, "closed", rec.events[0].Action)
	assert.Equal(t, "delivery-1", rec.events[0].DeliveryID)
	assert.Equal(t, body, rec.events[0].Payload)
	assert.True(t, rec.ctxOK)

	var payload PullRequestEvent
	require.NoError(t, rec.events[0].Decode(&payload))
	assert.True(t, payload.PullRequest.Merged)
}

func TestWebhookGeneratesDeliveryID(t *testing.T) {
	s, rec := newTestServer()
	body := []byte(`{"action":"closed"}`)

	w := post(t, s, "pull_request", body, sign(body), nil)
	s.Wait()

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, rec.events, 1)
	assert.Len(t, rec.events[0].DeliveryID, 36)
}

func TestWebhookRejections(t *testing.T) {
	valid := []byte(`{"action":"closed"}`)
	malformed := []byte(`{"action":`)

	tests := []struct {
		name      string
		event     string
		body      []byte
		signature string
		want      int
	}{
		{name: "missing signature", event: "pull_request", body: valid, want: http.StatusForbidden},
		{name: "wrong signature", event: "pull_request", body: valid, signature: "sha256=" + strings.Repeat("0", 64), want: http.StatusForbidden},
		{name: "wrong algorithm", event: "pull_request", body: valid, signature: "sha1=abc", want: http.StatusForbidden},
		{name: "missing event", body: valid, signature: sign(valid), want: http.StatusBadRequest},
		{name: "malformed payload", event: "pull_request", body: malformed, signature: sign(malformed), want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestServer()
			w := post(t, s, tt.event, tt.body, tt.signature, nil)
			s.Wait()
			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, rec.events)
		})
	}
}

func TestWebhookPing(t *testing.T) {
	s, rec := newTestServer()
	body := []byte(`{"zen":"Keep it logically awesome."}`)

	w := post(t, s, "ping", body, sign(body), nil)
	s.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, rec.events)
}

func TestWebhookIgnoresUnknownRoutes(t *testing.T) {
	s, rec := newTestServer()
	body := []byte(`{"action":"opened"}`)

	w := post(t, s, "issues", body, sign(body), nil)
	s.Wait()

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Empty(t, rec.events)
}

func TestWebhookRejectsOversizedPayload(t *testing.T) {
	s, rec := newTestServer()
	body := bytes.Repeat([]byte("a"), MaxPayloadSize+1)

	w := post(t, s, "pull_request", body, sign(body), nil)
	s.Wait()

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, rec.events)
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestWebhookSurvivesFailingHandlers(t *testing.T) {
	router := NewRouter()
	router.Register("installation", "created", func(ctx context.Context, event Event) error {
		return errors.New("boom")
	})
	router.Register("installation", "deleted", func(ctx context.Context, event Event) error {
		panic("handler bug")
	})
	s := NewServer(router, Options{Secret: testSecret, RunTimeout: time.Second})

	for _, action := range []string{"created", "deleted"} {
		body := []byte(`{"action":"` + action + `"}`)
		w := post(t, s, "installation", body, sign(body), nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
	}
	s.Wait()
}

func TestRouter(t *testing.T) {
	router := NewRouter()
	noop := func(ctx context.Context, event Event) error { return nil }
	router.Register("pull_request", "closed", noop)
	router.Register("installation", "created", noop)

	_, ok := router.Lookup("pull_request", "closed")
	assert.True(t, ok)
	_, ok = router.Lookup("pull_request", "opened")
	assert.False(t, ok)
	assert.Equal(t, []string{"installation.created", "pull_request.closed"}, router.Routes())

	assert.Panics(t, func() { router.Register("pull_request", "closed", noop) })
}
