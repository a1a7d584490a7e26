package nlu

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ent0n29/converse/internal/config"
	"github.com/ent0n29/converse/internal/session"
)

type intentMatcher struct {
	name     string
	keywords []*regexp.Regexp
	patterns []*regexp.Regexp
}

type entityMatcher struct {
	name     string
	patterns []*regexp.Regexp
}

// Keyword is a rule-based parser. An intent pattern match wins outright;
// otherwise the intent with the most keyword hits is chosen, ties going to
// the one declared first.
type Keyword struct {
	intents  []intentMatcher
	entities []entityMatcher
}

func NewKeyword(cfg config.NLU) (*Keyword, error) {
	k := &Keyword{}
	for _, in := range cfg.Intents {
		m := intentMatcher{name: in.Name}
		for _, kw := range in.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			m.keywords = append(m.keywords, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
		for _, raw := range in.Patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("intent %s pattern %q: %w", in.Name, raw, err)
			}
			m.patterns = append(m.patterns, re)
		}
		k.intents = append(k.intents, m)
	}
	for _, en := range cfg.Entities {
		m := entityMatcher{name: en.Name}
		for _, raw := range en.Patterns {
			re, err := regexp.Compile(raw)
			if err != nil {
				return nil, fmt.Errorf("entity %s pattern %q: %w", en.Name, raw, err)
			}
			m.patterns = append(m.patterns, re)
		}
		k.entities = append(k.entities, m)
	}
	return k, nil
}

func (k *Keyword) Parse(_ context.Context, text string, _ *session.Session) (session.ParseData, error) {
	var out session.ParseData
	if intent := k.intent(text); intent != nil {
		out.Intent = intent
	}
	out.Entities = k.extract(text)
	return out, nil
}

func (k *Keyword) intent(text string) *session.Intent {
	best, bestHits, bestTotal := "", 0, 0
	for _, m := range k.intents {
		for _, re := range m.patterns {
			if re.MatchString(text) {
				return &session.Intent{Name: m.name, Confidence: 1}
			}
		}
		hits := 0
		for _, re := range m.keywords {
			if re.MatchString(text) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits, bestTotal = m.name, hits, len(m.keywords)
		}
	}
	if bestHits == 0 {
		return nil
	}
	// One hit is enough to be fairly sure; more hits push toward 1.
	confidence := 0.6 + 0.4*float64(bestHits)/float64(bestTotal)
	return &session.Intent{Name: best, Confidence: confidence}
}

// extract returns the first match of each entity. A named group "value"
// narrows the match.
func (k *Keyword) extract(text string) []session.Entity {
	var out []session.Entity
	for _, m := range k.entities {
		for _, re := range m.patterns {
			loc := re.FindStringSubmatchIndex(text)
			if loc == nil {
				continue
			}
			start, end := loc[0], loc[1]
			if i := re.SubexpIndex("value"); i > 0 && loc[2*i] >= 0 {
				start, end = loc[2*i], loc[2*i+1]
			}
			out = append(out, session.Entity{Entity: m.name, Value: text[start:end], Start: start, End: end})
			break
		}
	}
	return out
}
