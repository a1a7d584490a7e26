package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ent0n29/converse/internal/session"
)

//go:embed assistant.default.yaml
var defaultAssistant []byte

// Assistant is the declarative definition of one assistant: its slots, how
// user messages are parsed and which policies drive the conversation.
type Assistant struct {
	Name     string         `yaml:"name"`
	Greeting string         `yaml:"greeting"`
	Slots    []session.Slot `yaml:"slots"`
	NLU      NLU            `yaml:"nlu"`
	Policies []Policy       `yaml:"policies"`
}

type NLU struct {
	Type        string        `yaml:"type"`
	URL         string        `yaml:"url"`
	FallbackURL string        `yaml:"fallback_url"`
	Timeout     time.Duration `yaml:"timeout"`
	Intents     []Intent      `yaml:"intents"`
	Entities    []EntityRule  `yaml:"entities"`
}

type Intent struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

type EntityRule struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
}

// Policy keeps the raw YAML node so each policy type can decode its own
// options.
type Policy struct {
	Type string
	Name string
	node *yaml.Node
}

func (p *Policy) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Type string `yaml:"type"`
		Name string `yaml:"name"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	p.Type = strings.TrimSpace(head.Type)
	p.Name = strings.TrimSpace(head.Name)
	p.node = node
	return nil
}

// Decode decodes the policy's full YAML mapping into v.
func (p Policy) Decode(v any) error {
	if p.node == nil {
		return nil
	}
	return p.node.Decode(v)
}

// PolicyFromYAML builds a Policy entry from a YAML snippet.
func PolicyFromYAML(src string) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal([]byte(src), &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	return p, nil
}

// LoadAssistant reads the assistant definition at path, or the embedded
// default when path is empty.
func LoadAssistant(path string) (Assistant, error) {
	raw := defaultAssistant
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Assistant{}, fmt.Errorf("read assistant config: %w", err)
		}
		raw = b
	}
	return ParseAssistant(raw)
}

func ParseAssistant(raw []byte) (Assistant, error) {
	var a Assistant
	if err := yaml.Unmarshal(raw, &a); err != nil {
		return Assistant{}, fmt.Errorf("decode assistant config: %w", err)
	}
	if err := a.Validate(); err != nil {
		return Assistant{}, err
	}
	return a, nil
}

// Validate checks the parts of the definition that do not depend on the
// action and policy registries.
func (a Assistant) Validate() error {
	seen := make(map[string]struct{}, len(a.Slots))
	for i, s := range a.Slots {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("slots[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("slots[%d]: duplicate slot %q", i, name)
		}
		seen[name] = struct{}{}
	}
	for i, p := range a.Policies {
		if p.Type == "" {
			return fmt.Errorf("policies[%d]: type is required", i)
		}
	}
	for i, in := range a.NLU.Intents {
		if in.Name == "" {
			return fmt.Errorf("nlu.intents[%d]: name is required", i)
		}
	}
	if a.NLU.Type == "remote" && a.NLU.URL == "" {
		return errors.New("nlu.url is required for remote nlu")
	}
	return nil
}

// HasSlot reports whether name is a declared slot.
func (a Assistant) HasSlot(name string) bool {
	for _, s := range a.Slots {
		if s.Name == name {
			return true
		}
	}
	return false
}

// Template returns the per-session template stores use to build sessions.
func (a Assistant) Template(maxEventHistory int) session.Template {
	return session.Template{Slots: a.Slots, MaxEventHistory: maxEventHistory}
}
