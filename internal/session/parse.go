package session

// Intent is the classified purpose of a user message.
type Intent struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Entity is a value detected in a user message.
type Entity struct {
	Entity string `json:"entity"`
	Value  any    `json:"value"`
	Start  int    `json:"start,omitempty"`
	End    int    `json:"end,omitempty"`
}

// ParseData is what the NLU layer knows about a user message.
type ParseData struct {
	Intent   *Intent  `json:"intent,omitempty"`
	Entities []Entity `json:"entities,omitempty"`
}

// IntentName returns the intent name or "" when no intent was detected.
func (p ParseData) IntentName() string {
	if p.Intent == nil {
		return ""
	}
	return p.Intent.Name
}

func (p ParseData) clone() ParseData {
	out := ParseData{}
	if p.Intent != nil {
		intent := *p.Intent
		out.Intent = &intent
	}
	if len(p.Entities) > 0 {
		out.Entities = make([]Entity, len(p.Entities))
		for i, e := range p.Entities {
			e.Value = cloneValue(e.Value)
			out.Entities[i] = e
		}
	}
	return out
}
