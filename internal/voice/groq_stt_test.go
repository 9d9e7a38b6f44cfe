package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGroqTranscriberUploadsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer gsk_test" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm() error = %v", err)
			return
		}
		if r.FormValue("model") != "whisper-large-v3-turbo" || r.FormValue("response_format") != "verbose_json" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile() error = %v", err)
			return
		}
		defer file.Close()
		wav, _ := io.ReadAll(file)
		// 200ms at 8kHz upsampled to 16kHz: 3200 samples after the 44-byte header.
		if string(wav[:4]) != "RIFF" || binary.LittleEndian.Uint32(wav[24:28]) != 16000 || len(wav) != 44+6400 {
			t.Errorf("unexpected wav upload of %d bytes", len(wav))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" Three bedrooms in Dallas. ","segments":[{"avg_logprob":-0.1,"no_speech_prob":0.05},{"avg_logprob":-0.1,"no_speech_prob":0.05}]}`)
	}))
	defer srv.Close()

	g := NewGroqTranscriber(GroqSTTConfig{APIKey: "gsk_test", BaseURL: srv.URL + "/"})
	got, err := g.Transcribe(context.Background(), testUtterance())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "Three bedrooms in Dallas." || got.Provider != "groq_whisper" {
		t.Fatalf("Transcribe() = %+v", got)
	}
	// exp(-0.1) * 0.95
	if got.Confidence < 0.85 || got.Confidence > 0.87 {
		t.Fatalf("Confidence = %v, want about 0.86", got.Confidence)
	}
}

func TestGroqTranscriberReportsRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewGroqTranscriber(GroqSTTConfig{APIKey: "gsk_test", BaseURL: srv.URL})
	_, err := g.Transcribe(context.Background(), testUtterance())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusTooManyRequests || !statusErr.Retryable() {
		t.Fatalf("Transcribe() error = %v, want retryable 429", err)
	}
}

func TestWhisperConfidenceWithoutSegments(t *testing.T) {
	if got := whisperConfidence(whisperResponse{Text: "hello"}); got != 1 {
		t.Fatalf("whisperConfidence(text only) = %v, want 1", got)
	}
	if got := whisperConfidence(whisperResponse{}); got != 0 {
		t.Fatalf("whisperConfidence(empty) = %v, want 0", got)
	}
}
