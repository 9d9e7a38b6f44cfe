package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

func TestStreamResponseCarriesParameters(t *testing.T) {
	doc, err := StreamResponse("wss://agent.example.com/twilio/stream", map[string]string{
		"direction": "outbound",
		"from":      "+15550001",
		"to":        "",
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	for _, want := range []string{"<Connect>", "<Stream", `url="wss://agent.example.com/twilio/stream"`, `name="direction"`, `value="outbound"`, `value="+15550001"`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("StreamResponse() = %s, missing %s", doc, want)
		}
	}
	if strings.Contains(doc, `name="to"`) {
		t.Fatalf("empty parameter rendered: %s", doc)
	}
}

func TestBusyAndTransferResponses(t *testing.T) {
	busy, err := BusyResponse()
	if err != nil || !strings.Contains(busy, "<Reject") || !strings.Contains(busy, `reason="busy"`) {
		t.Fatalf("BusyResponse() = %s, %v", busy, err)
	}
	dial, err := TransferResponse("+15550100")
	if err != nil || !strings.Contains(dial, "<Dial") || !strings.Contains(dial, "+15550100") {
		t.Fatalf("TransferResponse() = %s, %v", dial, err)
	}
	say, err := SayResponse("Please try again later.")
	if err != nil || !strings.Contains(say, "<Say") || !strings.Contains(say, "Please try again later.") || !strings.Contains(say, "<Hangup") {
		t.Fatalf("SayResponse() = %s, %v", say, err)
	}
}

type fakeCalls struct {
	created *twilioApi.CreateCallParams
	updates map[string]*twilioApi.UpdateCallParams
	err     error
}

func (f *fakeCalls) CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = params
	sid := "CA900"
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCalls) UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.updates == nil {
		f.updates = make(map[string]*twilioApi.UpdateCallParams)
	}
	f.updates[sid] = params
	return &twilioApi.ApiV2010Call{Sid: &sid}, nil
}

func TestClientDialHangupTransfer(t *testing.T) {
	calls := &fakeCalls{}
	c := newClient(calls, Config{FromNumber: "+15550002"})
	ctx := context.Background()

	sid, err := c.Dial(ctx, "+15550001", "wss://agent.example.com/twilio/stream", map[string]string{"direction": "outbound"})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if sid != "CA900" || *calls.created.To != "+15550001" || *calls.created.From != "+15550002" {
		t.Fatalf("Dial() sid = %q params = %+v", sid, calls.created)
	}
	if !strings.Contains(*calls.created.Twiml, `value="outbound"`) {
		t.Fatalf("outbound twiml = %s", *calls.created.Twiml)
	}

	if err := c.Hangup(ctx, "CA1"); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if got := calls.updates["CA1"]; got == nil || got.Status == nil || *got.Status != "completed" {
		t.Fatalf("hangup update = %+v", got)
	}

	if err := c.Transfer(ctx, "CA2", "+15550100"); err != nil {
		t.Fatalf("Transfer() error = %v", err)
	}
	if got := calls.updates["CA2"]; got == nil || got.Twiml == nil || !strings.Contains(*got.Twiml, "+15550100") {
		t.Fatalf("transfer update = %+v", got)
	}
}

func TestClientErrors(t *testing.T) {
	var unconfigured *Client
	if err := unconfigured.Hangup(context.Background(), "CA1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("nil Hangup() error = %v, want ErrNotConfigured", err)
	}
	if NewClient(Config{AccountSID: "AC1"}) != nil {
		t.Fatalf("NewClient() without auth token must return nil")
	}

	boom := errors.New("api down")
	c := newClient(&fakeCalls{err: boom}, Config{FromNumber: "+15550002"})
	if _, err := c.Dial(context.Background(), "+15550001", "wss://x/stream", nil); !errors.Is(err, boom) {
		t.Fatalf("Dial() error = %v, want wrapped api error", err)
	}
	if _, err := newClient(&fakeCalls{}, Config{}).Dial(context.Background(), "+15550001", "wss://x/stream", nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Dial() without caller id error = %v", err)
	}
}

func sign(token, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + params.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidator(t *testing.T) {
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15550001"}, "To": {"+15550002"}}
	newReq := func(signature string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "https://agent.example.com/twilio/voice", strings.NewReader(form.Encode()))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.Header.Set("X-Twilio-Signature", signature)
		return r
	}

	v := NewValidator("secret", "https://agent.example.com/")
	if !v.Validate(newReq(sign("secret", "https://agent.example.com/twilio/voice", form))) {
		t.Fatalf("Validate() rejected a correctly signed request")
	}
	if v.Validate(newReq(sign("other", "https://agent.example.com/twilio/voice", form))) {
		t.Fatalf("Validate() accepted a request signed with the wrong token")
	}
	if !NewValidator("", "").Validate(newReq("")) {
		t.Fatalf("disabled validator must accept requests")
	}
}

func TestBaseURLHonoursProxyHeaders(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://localhost:8080/twilio/voice", nil)
	if got := BaseURL(r); got != "http://localhost:8080" {
		t.Fatalf("BaseURL() = %q", got)
	}
	r.Header.Set("X-Forwarded-Host", "abc.ngrok.app")
	r.Header.Set("X-Forwarded-Proto", "https")
	if got := BaseURL(r); got != "https://abc.ngrok.app" {
		t.Fatalf("BaseURL() = %q", got)
	}
}
