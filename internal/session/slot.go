package session

// Slot is a named value cell owned by a session. Slots are declared once per
// assistant and copied into every new session.
type Slot struct {
	Name        string `json:"name" yaml:"name"`
	Extractable bool   `json:"extractable" yaml:"extractable"`
	Value       any    `json:"value" yaml:"-"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Reset clears the value. Calling it repeatedly is harmless.
func (s *Slot) Reset() {
	s.Value = nil
}

// IsSet reports whether the slot currently holds a value.
func (s Slot) IsSet() bool {
	return s.Value != nil
}

func (s Slot) clone() Slot {
	s.Value = cloneValue(s.Value)
	return s
}

func cloneSlots(defs []Slot) map[string]*Slot {
	out := make(map[string]*Slot, len(defs))
	for _, def := range defs {
		c := def.clone()
		out[def.Name] = &c
	}
	return out
}

// cloneValue copies the container shapes produced by JSON decoding so that a
// cloned session never shares mutable slot values with its source.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return cloneValue(m).(map[string]any)
}
