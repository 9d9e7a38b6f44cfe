package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	content := "name: Alex\ngreeting: Hi, this is Alex.\nphrases:\n  repeat: Say again?\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Name != "Alex" || p.Greeting != "Hi, this is Alex." || p.Phrases.Repeat != "Say again?" {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.Phrases.HoldOn != Default().Phrases.HoldOn || p.SystemPrompt == "" {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.Phrases.Repeat != "Could you repeat that?" {
		t.Fatalf("Repeat = %q", p.Phrases.Repeat)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	if err := os.WriteFile(path, []byte("name: [unterminated"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
