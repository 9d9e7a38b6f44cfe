package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ent0n29/phoneagent/internal/audio"
	"github.com/ent0n29/phoneagent/internal/calllog"
	"github.com/ent0n29/phoneagent/internal/observability"
	"github.com/ent0n29/phoneagent/internal/persona"
	"github.com/ent0n29/phoneagent/internal/reasoning"
	"github.com/ent0n29/phoneagent/internal/search"
	"github.com/ent0n29/phoneagent/internal/session"
	"github.com/ent0n29/phoneagent/internal/telephony"
	"github.com/ent0n29/phoneagent/internal/voice"
)

type summaryLog struct {
	mu        sync.Mutex
	summaries []calllog.Summary
}

func (l *summaryLog) TurnRecorded(string, session.TurnRecord) {}

func (l *summaryLog) CallFinished(s calllog.Summary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summaries = append(l.summaries, s)
}

func (l *summaryLog) last() (calllog.Summary, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.summaries) == 0 {
		return calllog.Summary{}, false
	}
	return l.summaries[len(l.summaries)-1], true
}

type staticResponder struct{}

func (staticResponder) Respond(context.Context, string, []session.TurnRecord, string) reasoning.Result {
	return reasoning.Result{Text: "Sure.", Provider: "static"}
}

type harness struct {
	t        *testing.T
	srv      *Server
	ts       *httptest.Server
	registry *session.Registry
	metrics  *observability.Metrics
	log      *summaryLog
}

func newHarness(t *testing.T, ceiling int, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		registry: session.NewRegistry(ceiling, time.Minute),
		metrics:  observability.NewMetricsWith(prometheus.NewRegistry(), "test"),
		log:      &summaryLog{},
	}
	opts.Registry = h.registry
	opts.Metrics = h.metrics
	opts.NewCall = func(sess *session.Session, transport voice.Transport, format audio.Format) *voice.Controller {
		p := persona.Default()
		p.Greeting = "Hello"
		return voice.NewController(sess, voice.ControllerDeps{
			Registry:    h.registry,
			Transcriber: voice.NewMockTranscriber(),
			Responder:   staticResponder{},
			Streamer:    voice.NewStreamer(voice.NewMockSynthesizer(), nil, p.Phrases.HoldOn, voice.StreamerConfig{}),
			Transport:   transport,
			CallLog:     h.log,
		}, voice.ControllerConfig{
			Format:  format,
			Persona: p,
			Metrics: h.metrics,
		})
	}
	h.srv = New(opts)
	h.ts = httptest.NewServer(h.srv.Router())
	t.Cleanup(h.ts.Close)
	return h
}

// openStream connects a media stream and sends the start message for callID.
func (h *harness) openStream(callID string) *websocket.Conn {
	h.t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/twilio/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		h.t.Fatalf("Dial() error = %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	send(h.t, conn, `{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	send(h.t, conn, fmt.Sprintf(`{"event":"start","sequenceNumber":"1","streamSid":"MZ1","start":{
		"accountSid":"AC1","streamSid":"MZ1","callSid":%q,"tracks":["inbound"],
		"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},
		"customParameters":{"direction":"inbound","from":"+15550001","to":"+15550002"}}}`, callID))
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

// readEvents collects event names sent by the server until the connection closes.
func readEvents(conn *websocket.Conn) (<-chan []string, <-chan error) {
	events := make(chan []string, 1)
	closed := make(chan error, 1)
	go func() {
		var seen []string
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				events <- seen
				closed <- err
				return
			}
			var env struct {
				Event string `json:"event"`
			}
			_ = json.Unmarshal(data, &env)
			seen = append(seen, env.Event)
		}
	}()
	return events, closed
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) postForm(path string, form url.Values) *http.Response {
	h.t.Helper()
	res, err := http.PostForm(h.ts.URL+path, form)
	if err != nil {
		h.t.Fatalf("POST %s error = %v", path, err)
	}
	h.t.Cleanup(func() { res.Body.Close() })
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(body)
}

func TestVoiceWebhookConnectsStream(t *testing.T) {
	h := newHarness(t, 2, Options{PublicURL: "https://agent.example.com/"})

	res := h.postForm("/twilio/voice", url.Values{
		"CallSid":   {"CA1"},
		"From":      {"+15550001"},
		"To":        {"+15550002"},
		"Direction": {"inbound"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := readBody(t, res)
	for _, want := range []string{"<Connect>", `url="wss://agent.example.com/twilio/stream"`, "+15550001"} {
		if !strings.Contains(body, want) {
			t.Fatalf("TwiML missing %q: %s", want, body)
		}
	}
}

func TestVoiceWebhookBusyAtCapacity(t *testing.T) {
	h := newHarness(t, 1, Options{})
	if _, err := h.registry.Create("CA-existing", session.DirectionInbound, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res := h.postForm("/twilio/voice", url.Values{"CallSid": {"CA2"}})
	body := readBody(t, res)
	if !strings.Contains(body, "<Reject") || !strings.Contains(body, "busy") {
		t.Fatalf("TwiML = %s, want busy reject", body)
	}
	if got := testutil.ToFloat64(h.metrics.AdmissionRejections.WithLabelValues("capacity")); got != 1 {
		t.Fatalf("capacity rejections = %v, want 1", got)
	}
	if h.registry.Count() != 1 {
		t.Fatalf("Count() = %d, want the existing call only", h.registry.Count())
	}
}

func TestVoiceWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t, 2, Options{Validator: telephony.NewValidator("secret", "")})

	res := h.postForm("/twilio/voice", url.Values{"CallSid": {"CA1"}})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", res.StatusCode)
	}
}

func TestStreamRunsCallUntilStop(t *testing.T) {
	h := newHarness(t, 2, Options{})
	conn := h.openStream("CA1")
	events, closed := readEvents(conn)

	h.waitFor("session admitted", func() bool {
		_, ok := h.registry.Get("CA1")
		return ok
	})
	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xFF
	}
	for i := 0; i < 5; i++ {
		send(t, conn, fmt.Sprintf(`{"event":"media","sequenceNumber":"%d","streamSid":"MZ1","media":{"track":"inbound","chunk":"%d","timestamp":"%d","payload":%q}}`,
			i+2, i+1, i*20, base64.StdEncoding.EncodeToString(silence)))
	}
	send(t, conn, `{"event":"stop","sequenceNumber":"9","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`)

	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not close the stream after stop")
	}
	sent := <-events
	if len(sent) == 0 || sent[0] != "media" {
		t.Fatalf("server events = %v, want greeting media first", sent)
	}

	h.waitFor("call summary", func() bool {
		_, ok := h.log.last()
		return ok
	})
	summary, _ := h.log.last()
	if summary.CallID != "CA1" || summary.Reason != "stream_stopped" {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ok := h.registry.Get("CA1"); ok {
		t.Fatal("session still registered after stop")
	}
	if got := testutil.ToFloat64(h.metrics.ActiveCalls); got != 0 {
		t.Fatalf("ActiveCalls = %v, want 0", got)
	}
}

func TestStreamRejectedAtCapacity(t *testing.T) {
	h := newHarness(t, 1, Options{})
	if _, err := h.registry.Create("CA-existing", session.DirectionInbound, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	conn := h.openStream("CA2")

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseTryAgainLater) {
		t.Fatalf("ReadMessage() error = %v, want try-again-later close", err)
	}
	if got := testutil.ToFloat64(h.metrics.AdmissionRejections.WithLabelValues("capacity")); got != 1 {
		t.Fatalf("capacity rejections = %v, want 1", got)
	}
}

func TestStatusWebhookEndsLiveCall(t *testing.T) {
	h := newHarness(t, 2, Options{})
	conn := h.openStream("CA1")
	_, closed := readEvents(conn)
	h.waitFor("live call", func() bool { return h.srv.liveCall("CA1") != nil })

	res := h.postForm("/twilio/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("stream not closed after completed status")
	}
	h.waitFor("call summary", func() bool {
		s, ok := h.log.last()
		return ok && s.Reason == "hangup"
	})
}

func TestShutdownEndsLiveCalls(t *testing.T) {
	h := newHarness(t, 2, Options{})
	conn := h.openStream("CA1")
	_, _ = readEvents(conn)
	h.waitFor("live call", func() bool { return h.srv.liveCall("CA1") != nil })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.srv.Shutdown(ctx, "shutdown"); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	summary, ok := h.log.last()
	if !ok || summary.Reason != "shutdown" {
		t.Fatalf("summary = %+v, want shutdown", summary)
	}

	res, err := http.Get(h.ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want 503 while draining", res.StatusCode)
	}
}

func TestGetCallFallsBackToCallLog(t *testing.T) {
	store := calllog.NewInMemoryStore()
	ctx := context.Background()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := store.StartCall(ctx, calllog.CallRecord{CallID: "CA9", Direction: session.DirectionInbound, StartedAt: started}); err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	h := newHarness(t, 2, Options{CallLog: store})
	if _, err := h.registry.Create("CA1", session.DirectionOutbound, "+15550002", "+15550001"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cases := []struct {
		id     string
		status int
		live   any
	}{
		{id: "CA1", status: http.StatusOK, live: true},
		{id: "CA9", status: http.StatusOK, live: false},
		{id: "CA404", status: http.StatusNotFound},
	}
	for _, tc := range cases {
		res, err := http.Get(h.ts.URL + "/v1/calls/" + tc.id)
		if err != nil {
			t.Fatalf("GET %s error = %v", tc.id, err)
		}
		var body map[string]any
		_ = json.NewDecoder(res.Body).Decode(&body)
		res.Body.Close()
		if res.StatusCode != tc.status {
			t.Fatalf("GET %s status = %d, want %d", tc.id, res.StatusCode, tc.status)
		}
		if tc.live != nil && body["live"] != tc.live {
			t.Fatalf("GET %s live = %v, want %v", tc.id, body["live"], tc.live)
		}
	}

	res, err := http.Get(h.ts.URL + "/v1/calls")
	if err != nil {
		t.Fatalf("GET /v1/calls error = %v", err)
	}
	defer res.Body.Close()
	var list struct {
		Active  int                `json:"active"`
		Ceiling int                `json:"ceiling"`
		Calls   []session.Snapshot `json:"calls"`
	}
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Active != 1 || list.Ceiling != 2 || len(list.Calls) != 1 || list.Calls[0].CallID != "CA1" {
		t.Fatalf("list = %+v", list)
	}
}

func TestDialCallRequiresTelephony(t *testing.T) {
	h := newHarness(t, 2, Options{})

	res, err := http.Post(h.ts.URL+"/v1/calls", "application/json", strings.NewReader(`{"to":"+15550003"}`))
	if err != nil {
		t.Fatalf("POST /v1/calls error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}

	bad, err := http.Post(h.ts.URL+"/v1/calls", "application/json", strings.NewReader(`{"to":"5550003"}`))
	if err != nil {
		t.Fatalf("POST /v1/calls error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a non E.164 number", bad.StatusCode)
	}
}

func TestFallbackWebhookApologisesAndHangsUp(t *testing.T) {
	h := newHarness(t, 2, Options{})

	res := h.postForm("/twilio/fallback", url.Values{
		"CallSid":   {"CA1"},
		"ErrorCode": {"11200"},
		"ErrorUrl":  {"https://agent.example.com/twilio/voice"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := readBody(t, res)
	for _, want := range []string{"<Say", "technical difficulties", "<Hangup"} {
		if !strings.Contains(body, want) {
			t.Fatalf("TwiML missing %q: %s", want, body)
		}
	}
	if got := testutil.ToFloat64(h.metrics.CallEvents.WithLabelValues("fallback")); got != 1 {
		t.Fatalf("fallback events = %v, want 1", got)
	}

	signed := newHarness(t, 2, Options{Validator: telephony.NewValidator("secret", "")})
	if res := signed.postForm("/twilio/fallback", url.Values{"CallSid": {"CA1"}}); res.StatusCode != http.StatusForbidden {
		t.Fatalf("unsigned status = %d, want 403", res.StatusCode)
	}
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, search.Query) ([]search.Result, error) {
	return nil, fmt.Errorf("%w: index offline", search.ErrSearchFailed)
}

func postJSON(t *testing.T, target, body string) *http.Response {
	t.Helper()
	res, err := http.Post(target, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", target, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestPropertySearch(t *testing.T) {
	h := newHarness(t, 2, Options{Searcher: search.NewMemorySearcher(search.SampleCatalog())})
	endpoint := h.ts.URL + "/v1/properties/search"

	res := postJSON(t, endpoint, `{"query":"house with a garage","max_price":600000,"min_bedrooms":3,"city":"dallas"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", res.StatusCode, readBody(t, res))
	}
	var out struct {
		Results []search.Result `json:"results"`
		Total   int             `json:"total"`
		Query   string          `json:"query"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	if out.Total != 2 || len(out.Results) != 2 || out.Query != "house with a garage" {
		t.Fatalf("response = %+v", out)
	}
	for _, r := range out.Results {
		if r.City != "Dallas" || r.Price > 600000 || r.Bedrooms < 3 {
			t.Fatalf("result %+v violates filters", r)
		}
	}

	for name, body := range map[string]string{
		"empty body":     ``,
		"missing query":  `{"city":"Austin"}`,
		"limit too high": `{"query":"condo","limit":21}`,
		"negative price": `{"query":"condo","max_price":-1}`,
	} {
		if res := postJSON(t, endpoint, body); res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, res.StatusCode)
		}
	}
}

func TestPropertySearchFailures(t *testing.T) {
	none := newHarness(t, 2, Options{})
	if res := postJSON(t, none.ts.URL+"/v1/properties/search", `{"query":"condo"}`); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 without a searcher", res.StatusCode)
	}

	broken := newHarness(t, 2, Options{Searcher: failingSearcher{}})
	res := postJSON(t, broken.ts.URL+"/v1/properties/search", `{"query":"condo"}`)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	if body := readBody(t, res); !strings.Contains(body, "search_failed") {
		t.Fatalf("body = %s", body)
	}
}
