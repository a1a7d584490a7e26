package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ent0n29/converse/internal/session"
)

// Result is one policy's outcome for a round. Index is the policy's position
// in the manager's configuration.
type Result struct {
	Index      int
	Policy     string
	Prediction *Prediction
	Err        error
}

// Manager solicits predictions. Results arrive as policies complete and the
// channel is closed once every policy has answered. Errors are passed through
// for the caller to judge.
type Manager interface {
	Run(ctx context.Context, s *session.Session) <-chan Result
	Policies() []string
}

// LocalManager runs in-process policies concurrently, each against its own
// copy of one snapshot taken when Run is called.
type LocalManager struct {
	policies []Policy
	timeout  time.Duration
}

func NewLocalManager(timeout time.Duration, policies ...Policy) *LocalManager {
	return &LocalManager{policies: policies, timeout: timeout}
}

func (m *LocalManager) Policies() []string {
	names := make([]string, 0, len(m.policies))
	for _, p := range m.policies {
		names = append(names, p.Name())
	}
	return names
}

func (m *LocalManager) Run(ctx context.Context, s *session.Session) <-chan Result {
	out := make(chan Result, len(m.policies))
	snapshot := s.Clone()

	var wg sync.WaitGroup
	for i, p := range m.policies {
		wg.Add(1)
		go func(i int, p Policy, view *session.Session) {
			defer wg.Done()
			out <- m.runOne(ctx, i, p, view)
		}(i, p, snapshot.Clone())
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (m *LocalManager) runOne(ctx context.Context, index int, p Policy, s *session.Session) (res Result) {
	res = Result{Index: index, Policy: p.Name()}
	defer func() {
		if r := recover(); r != nil {
			res.Prediction = nil
			res.Err = fmt.Errorf("policy %s panicked: %v", p.Name(), r)
		}
	}()

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	pred, err := p.Run(ctx, s)
	if err != nil {
		res.Err = fmt.Errorf("policy %s: %w", p.Name(), err)
		return res
	}
	if pred != nil && pred.PolicyName == "" {
		pred.PolicyName = p.Name()
	}
	res.Prediction = pred
	return res
}
