package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Phrases are the scripted lines spoken without a reasoning round trip.
type Phrases struct {
	// Repeat is spoken when the reasoning chain is exhausted.
	Repeat string `yaml:"repeat"`
	// HoldOn is pre-rendered and played whenever synthesis fails.
	HoldOn string `yaml:"hold_on"`
	// Apology is spoken when transcription fails.
	Apology  string `yaml:"apology"`
	Transfer string `yaml:"transfer"`
	Goodbye  string `yaml:"goodbye"`
}

// Persona is the agent's voice: prompt, greeting and scripted phrases.
type Persona struct {
	Name         string  `yaml:"name"`
	SystemPrompt string  `yaml:"system_prompt"`
	Greeting     string  `yaml:"greeting"`
	Phrases      Phrases `yaml:"phrases"`
}

const defaultSystemPrompt = `You are Sarah, a friendly real estate assistant for Premier Properties, speaking on the phone.
Keep every reply to one to three short spoken sentences with no lists or markup.
Ask clarifying questions about city, budget and bedrooms before searching.
Use the property_search tool for listings and never invent properties.
Use transfer_call when the caller asks for a human or sounds frustrated.
Use end_call when the caller is done.`

func Default() Persona {
	return Persona{
		Name:         "Sarah",
		SystemPrompt: defaultSystemPrompt,
		Greeting:     "Hello! Thank you for calling Premier Properties, this is Sarah. How can I help you find your perfect home today?",
		Phrases: Phrases{
			Repeat:   "Could you repeat that?",
			HoldOn:   "Sorry, one moment.",
			Apology:  "Sorry, I didn't catch that.",
			Transfer: "I understand. Let me transfer you to one of our human agents. Please hold for just a moment.",
			Goodbye:  "Thank you for calling Premier Properties! Feel free to call back anytime. Have a wonderful day!",
		},
	}
}

// Load reads a YAML persona file; fields it leaves empty keep their defaults.
// An empty path returns Default().
func Load(path string) (Persona, error) {
	p := Default()
	path = strings.TrimSpace(path)
	if path == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	var override Persona
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	merge(&p.Name, override.Name)
	merge(&p.SystemPrompt, override.SystemPrompt)
	merge(&p.Greeting, override.Greeting)
	merge(&p.Phrases.Repeat, override.Phrases.Repeat)
	merge(&p.Phrases.HoldOn, override.Phrases.HoldOn)
	merge(&p.Phrases.Apology, override.Phrases.Apology)
	merge(&p.Phrases.Transfer, override.Phrases.Transfer)
	merge(&p.Phrases.Goodbye, override.Phrases.Goodbye)
	return p, nil
}

func merge(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
