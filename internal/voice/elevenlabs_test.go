package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/phoneagent/internal/audio"
)

func elevenServer(t *testing.T, replies func(conn *websocket.Conn)) (*httptest.Server, chan []string) {
	t.Helper()
	texts := make(chan []string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-1/stream-input" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("output_format") != "pcm_16000" || r.Header.Get("xi-api-key") != "xi_test" {
			t.Errorf("query = %q key = %q", r.URL.RawQuery, r.Header.Get("xi-api-key"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer conn.Close()

		var got []string
		for {
			var msg struct {
				Text string `json:"text"`
			}
			if err := conn.ReadJSON(&msg); err != nil {
				t.Errorf("ReadJSON() error = %v", err)
				return
			}
			if msg.Text == "" {
				break
			}
			got = append(got, msg.Text)
		}
		texts <- got
		replies(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, texts
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestElevenLabsStreamsPCM(t *testing.T) {
	chunk := base64.StdEncoding.EncodeToString(audio.PCM16ToBytes(make([]int16, 800)))
	srv, texts := elevenServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"audio": chunk})
		_ = conn.WriteJSON(map[string]any{"audio": chunk, "isFinal": false})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	})

	synth := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "xi_test", WSBaseURL: wsURL(srv), VoiceID: "voice-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := synth.Synthesize(ctx, "I found two options in Dallas, the first one is a cozy starter home.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	pcm, rate, err := ReadAll(ctx, stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(pcm) != 1600 || rate != 16000 {
		t.Fatalf("ReadAll() = %d samples at %d, want 1600 at 16000", len(pcm), rate)
	}

	got := <-texts
	if len(got) < 2 || got[0] != " " {
		t.Fatalf("sent texts = %q, want init message then segments", got)
	}
	if joined := strings.Join(strings.Fields(strings.Join(got[1:], " ")), " "); !strings.HasPrefix(joined, "I found two options in Dallas,") {
		t.Fatalf("segments = %q", got[1:])
	}
}

func TestElevenLabsSurfacesServerError(t *testing.T) {
	srv, _ := elevenServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"error": "quota_exceeded", "message": "out of credits"})
	})

	synth := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "xi_test", WSBaseURL: wsURL(srv), VoiceID: "voice-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stream, err := synth.Synthesize(ctx, "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	_, _, err = ReadAll(ctx, stream)
	if !errors.Is(err, ErrSynthesisFailed) || !strings.Contains(err.Error(), "quota_exceeded") {
		t.Fatalf("ReadAll() error = %v", err)
	}
}

func TestElevenLabsRequiresVoice(t *testing.T) {
	_, err := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "xi_test"}).Synthesize(context.Background(), "Hi.")
	if !errors.Is(err, ErrSynthesisFailed) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesisFailed", err)
	}
}
