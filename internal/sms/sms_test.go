package sms

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/copilot/internal/backoff"
	"github.com/haasonsaas/copilot/internal/observability"
	"github.com/haasonsaas/copilot/internal/retry"
)

func TestComputeSignature_SortsParams(t *testing.T) {
	params := url.Values{
		"To":     {"+18005551212"},
		"From":   {"+12349013030"},
		"Digits": {"1234"},
	}
	mac := hmac.New(sha1.New, []byte("12345"))
	mac.Write([]byte("https://mycompany.com/myapp.php?foo=1&bar=2" + "Digits1234" + "From+12349013030" + "To+18005551212"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if got := ComputeSignature("12345", "https://mycompany.com/myapp.php?foo=1&bar=2", params); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}
}

func TestValidSignature(t *testing.T) {
	params := url.Values{"From": {"+15550001"}, "Body": {"hi"}}
	sig := ComputeSignature("token", "https://example.com/sms", params)

	if !ValidSignature("token", sig, params, "http://internal/sms", "https://example.com/sms") {
		t.Error("signature for second candidate rejected")
	}
	if ValidSignature("other", sig, params, "https://example.com/sms") {
		t.Error("signature accepted with wrong token")
	}
	if ValidSignature("token", "", params, "https://example.com/sms") {
		t.Error("empty signature accepted")
	}
}

func TestRequestURLs(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://internal:8080/sms?x=1", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "copilot.example.com")

	got := RequestURLs(r)
	want := []string{"https://copilot.example.com/sms?x=1", "http://internal:8080/sms?x=1"}
	if len(got) != len(want) {
		t.Fatalf("urls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("urls[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// drain waits for every turn the handler started.
func drain(t *testing.T, h *WebhookHandler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

type stubResponder struct {
	reply string
	err   error
	calls int
	from  string
	body  string
}

func (r *stubResponder) Respond(ctx context.Context, from, body string) (string, error) {
	r.calls++
	r.from, r.body = from, body
	return r.reply, r.err
}

type recordingSender struct{ sent []Message }

func (s *recordingSender) Send(ctx context.Context, msg Message) (string, error) {
	s.sent = append(s.sent, msg)
	return "SM1", nil
}

func webhookRequest(params url.Values, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://example.com/sms", strings.NewReader(params.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		r.Header.Set(SignatureHeader, signature)
	}
	return r
}

func TestWebhook_Signatures(t *testing.T) {
	params := url.Values{"From": {"+15550001"}, "Body": {"hello"}}
	valid := ComputeSignature("token", "http://example.com/sms", params)

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{name: "missing", want: http.StatusBadRequest},
		{name: "invalid", signature: "bogus", want: http.StatusForbidden},
		{name: "valid", signature: valid, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responder := &stubResponder{}
			h := NewWebhookHandler(WebhookConfig{
				Responder:        responder,
				Sender:           &recordingSender{},
				AuthToken:        "token",
				VerifySignatures: true,
			})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, webhookRequest(params, tt.signature))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
			drain(t, h)
			if tt.want != http.StatusOK && responder.calls != 0 {
				t.Errorf("rejected request reached the responder %d times", responder.calls)
			}
		})
	}
}

func TestWebhook_RepliesInBackground(t *testing.T) {
	responder := &stubResponder{reply: "Hi there"}
	sender := &recordingSender{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewWebhookHandler(WebhookConfig{Responder: responder, Sender: sender, Metrics: metrics})

	params := url.Values{"From": {"+15550001"}, "Body": {"  hello  "}, "MessageSid": {"SM0"}, "MessagingServiceSid": {"MG9"}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest(params, ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.String() != emptyTwiML {
		t.Errorf("body = %q", rec.Body.String())
	}
	drain(t, h)
	if responder.from != "+15550001" || responder.body != "hello" {
		t.Errorf("responder saw from=%q body=%q", responder.from, responder.body)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %v", sender.sent)
	}
	want := Message{To: "+15550001", Body: "Hi there", MessagingServiceSID: "MG9"}
	if sender.sent[0] != want {
		t.Errorf("sent %+v, want %+v", sender.sent[0], want)
	}
	if got := testutil.ToFloat64(metrics.SMSMessages.WithLabelValues("inbound", "received")); got != 1 {
		t.Errorf("inbound counter = %v", got)
	}
	if got := testutil.ToFloat64(metrics.BackgroundJobs.WithLabelValues(JobKind, "succeeded")); got != 1 {
		t.Errorf("turn counter = %v", got)
	}
}

// blockingResponder holds every turn until release is closed.
type blockingResponder struct {
	started chan string
	release chan struct{}
}

func (r *blockingResponder) Respond(ctx context.Context, from, body string) (string, error) {
	r.started <- from
	select {
	case <-r.release:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestWebhook_SlowTurnsDoNotBlockOtherSenders(t *testing.T) {
	const senders = 8
	responder := &blockingResponder{started: make(chan string, senders), release: make(chan struct{})}
	h := NewWebhookHandler(WebhookConfig{Responder: responder, Sender: &recordingSender{}})

	for i := 0; i < senders; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, webhookRequest(url.Values{"From": {fmt.Sprintf("+1555000%d", i)}, "Body": {"hi"}}, ""))
		if rec.Code != http.StatusOK {
			t.Fatalf("sender %d status = %d", i, rec.Code)
		}
	}

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < senders {
		select {
		case from := <-responder.started:
			seen[from] = true
		case <-timeout:
			t.Fatalf("only %d of %d turns started while the others were still running", len(seen), senders)
		}
	}
	close(responder.release)
	drain(t, h)
}

func TestWebhook_CloseWaitsForTurnsAndRejectsNewOnes(t *testing.T) {
	responder := &blockingResponder{started: make(chan string, 1), release: make(chan struct{})}
	h := NewWebhookHandler(WebhookConfig{Responder: responder, Sender: &recordingSender{}})

	h.ServeHTTP(httptest.NewRecorder(), webhookRequest(url.Values{"From": {"+15550001"}}, ""))
	<-responder.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("close with a running turn = %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest(url.Values{"From": {"+15550002"}}, ""))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status after close = %d", rec.Code)
	}

	close(responder.release)
	drain(t, h)
}

type panickingResponder struct{}

func (panickingResponder) Respond(ctx context.Context, from, body string) (string, error) {
	panic("boom")
}

func TestWebhook_TurnPanicIsContained(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	h := NewWebhookHandler(WebhookConfig{Responder: panickingResponder{}, Sender: &recordingSender{}, Metrics: metrics})
	h.ServeHTTP(httptest.NewRecorder(), webhookRequest(url.Values{"From": {"+15550001"}}, ""))
	drain(t, h)
	if got := testutil.ToFloat64(metrics.BackgroundJobs.WithLabelValues(JobKind, "failed")); got != 1 {
		t.Errorf("failed turn counter = %v", got)
	}
}

func TestWebhook_EmptyReplySendsNothing(t *testing.T) {
	sender := &recordingSender{}
	h := NewWebhookHandler(WebhookConfig{Responder: &stubResponder{}, Sender: sender})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest(url.Values{"From": {"+15550001"}}, ""))
	drain(t, h)
	if rec.Code != http.StatusOK || len(sender.sent) != 0 {
		t.Errorf("status = %d sent = %v", rec.Code, sender.sent)
	}
}

func TestWebhook_ResponderErrorSendsNothing(t *testing.T) {
	sender := &recordingSender{}
	h := NewWebhookHandler(WebhookConfig{
		Responder: &stubResponder{reply: "x", err: errors.New("boom")},
		Sender:    sender,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest(url.Values{"From": {"+15550001"}, "Body": {"hi"}}, ""))
	drain(t, h)
	if rec.Code != http.StatusOK || len(sender.sent) != 0 {
		t.Errorf("status = %d sent = %v", rec.Code, sender.sent)
	}
}

func TestWebhook_BadRequests(t *testing.T) {
	h := NewWebhookHandler(WebhookConfig{Responder: &stubResponder{}, Sender: &recordingSender{}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sms", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, webhookRequest(url.Values{"Body": {"hi"}}, ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing From status = %d", rec.Code)
	}
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		AccountSID: "AC1",
		AuthToken:  "secret",
		FromNumber: "+15559999",
		BaseURL:    serverURL,
		Retry:      retry.Config{MaxAttempts: 3, Policy: backoff.Fixed{}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestClient_SendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/2010-04-01/Accounts/AC1/Messages.json" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "AC1" || pass != "secret" {
			t.Errorf("basic auth = %q %q %v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.PostForm.Get("To") != "+15550001" || r.PostForm.Get("Body") != "hello" || r.PostForm.Get("From") != "+15559999" {
			t.Errorf("form = %v", r.PostForm)
		}
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"sid": "SM42"}`)
	}))
	defer server.Close()

	sid, err := testClient(t, server.URL).Send(context.Background(), Message{To: "+15550001", Body: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sid != "SM42" || calls.Load() != 2 {
		t.Errorf("sid = %q calls = %d", sid, calls.Load())
	}
}

func TestClient_SendClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code": 21211, "message": "invalid To number"}`)
	}))
	defer server.Close()

	_, err := testClient(t, server.URL).Send(context.Background(), Message{To: "+1", Body: "hello"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Code != 21211 || apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("api error = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_MessagingServicePrecedence(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form = r.PostForm
		_, _ = io.WriteString(w, `{"sid": "SM1"}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	client.serviceSID = "MGconfig"

	if _, err := client.Send(context.Background(), Message{To: "+1", Body: "x", MessagingServiceSID: "MGinbound"}); err != nil {
		t.Fatal(err)
	}
	if form.Get("MessagingServiceSid") != "MGinbound" || form.Get("From") != "" {
		t.Errorf("form = %v", form)
	}

	if _, err := client.Send(context.Background(), Message{To: "+1", Body: "x"}); err != nil {
		t.Fatal(err)
	}
	if form.Get("MessagingServiceSid") != "MGconfig" {
		t.Errorf("form = %v", form)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(ClientConfig{AuthToken: "x"}); err == nil {
		t.Error("missing account SID accepted")
	}
	if _, err := NewClient(ClientConfig{AccountSID: "x"}); err == nil {
		t.Error("missing auth token accepted")
	}
}
