// Package processor drives one user message through a session: it records
// the message, fills slots and then alternates between asking the policies
// for predictions and running the predicted actions until the assistant
// listens again.
package processor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/converse/internal/action"
	"github.com/ent0n29/converse/internal/channel"
	"github.com/ent0n29/converse/internal/logging"
	"github.com/ent0n29/converse/internal/nlu"
	"github.com/ent0n29/converse/internal/observability"
	"github.com/ent0n29/converse/internal/policy"
	"github.com/ent0n29/converse/internal/reliability"
	"github.com/ent0n29/converse/internal/session"
)

const (
	DefaultMaxPredictions = 100
	DefaultActionTimeout  = 30 * time.Second
)

// Publisher receives the events of every saved round.
type Publisher interface {
	Publish(sessionID string, events ...session.Event) error
}

type Option func(*Processor)

func WithMaxPredictions(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxPredictions = n
		}
	}
}

func WithActionTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.actionTimeout = d
		}
	}
}

// WithGreeting overrides the session_start greeting.
func WithGreeting(greeting string) Option {
	return func(p *Processor) { p.greeting = &greeting }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func WithStageWindow(w *observability.StageWindow) Option {
	return func(p *Processor) { p.window = w }
}

func WithEventBus(bus Publisher) Option {
	return func(p *Processor) { p.bus = bus }
}

// WithCircuitBreakHook is called when a turn hits the round cap.
func WithCircuitBreakHook(fn func(sessionID string, rounds int)) Option {
	return func(p *Processor) { p.onCircuitBreak = fn }
}

func WithLogger(log zerolog.Logger) Option {
	return func(p *Processor) { p.log = log }
}

type Processor struct {
	store    session.Store
	policies policy.Manager
	parser   nlu.Parser
	locks    *lockRegistry

	sessionStart action.Action
	extractSlots action.Action

	maxPredictions int
	actionTimeout  time.Duration
	greeting       *string
	metrics        *observability.Metrics
	window         *observability.StageWindow
	bus            Publisher
	onCircuitBreak func(sessionID string, rounds int)
	log            zerolog.Logger
}

func New(store session.Store, manager policy.Manager, actions *action.Registry, parser nlu.Parser, opts ...Option) (*Processor, error) {
	if store == nil || manager == nil || actions == nil {
		return nil, errors.New("processor requires a store, a policy manager and an action registry")
	}
	if parser == nil {
		parser = nlu.None{}
	}
	p := &Processor{
		store:          store,
		policies:       manager,
		parser:         parser,
		locks:          newLockRegistry(),
		maxPredictions: DefaultMaxPredictions,
		actionTimeout:  DefaultActionTimeout,
		log:            logging.With().Str("component", "processor").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	var startArgs map[string]any
	if p.greeting != nil {
		startArgs = map[string]any{"greeting": *p.greeting}
	}
	var err error
	if p.sessionStart, err = actions.New(action.SessionStart, startArgs); err != nil {
		return nil, fmt.Errorf("session_start: %w", err)
	}
	if p.extractSlots, err = actions.New(action.ExtractSlots, nil); err != nil {
		return nil, fmt.Errorf("extract_slots: %w", err)
	}
	return p, nil
}

func (p *Processor) MaxPredictions() int { return p.maxPredictions }

// HandleMessage processes msg under the session's lock. The session is saved
// after the message is recorded and after every round, so a returned error
// never leaves unsaved state behind.
func (p *Processor) HandleMessage(ctx context.Context, msg UserMessage) (err error) {
	msg.normalize()
	if msg.SessionID == "" {
		return errors.New("session id is required")
	}
	started := time.Now()
	rounds := 0
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrSessionInactive):
			outcome = "inactive"
		case reliability.IsFatal(err):
			outcome = "fatal"
		case err != nil:
			outcome = "error"
		}
		p.metrics.ObserveTurn(outcome, rounds, time.Since(started))
		p.window.Since(observability.StageTurn, started)
	}()

	unlock, err := p.lock(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	defer unlock()

	log := p.log.With().Str("session_id", msg.SessionID).Str("message_id", msg.MessageID).Logger()
	redacted, _ := policy.RedactPII(msg.Text)
	log.Debug().Str("text", redacted).Str("input_channel", msg.InputChannel).Msg("user message")

	s, err := p.fetchOrCreate(ctx, msg.SessionID)
	if err != nil {
		return err
	}
	if err := p.startIfNew(ctx, msg.Output, s); err != nil {
		return err
	}

	uttered, err := p.logMessage(ctx, msg, s)
	if err != nil {
		return err
	}
	if !s.Active() {
		if err := p.persist(ctx, s, uttered...); err != nil {
			return err
		}
		log.Info().Str("status", string(s.Status())).Msg("message for inactive session recorded")
		p.window.ObserveIndicator("session_inactive")
		return fmt.Errorf("%w: %s is %s", ErrSessionInactive, s.ID(), s.Status())
	}

	extractStart := time.Now()
	extracted := p.runAction(ctx, p.extractSlots, "", nil, msg.Output, s.Clone())
	s.ApplyMany(extracted, true)
	p.window.Since(observability.StageExtractSlots, extractStart)
	if err := p.persist(ctx, s, append(uttered, extracted...)...); err != nil {
		return err
	}

	rounds, err = p.loop(ctx, msg.Output, s, log)
	return err
}

// loop runs prediction rounds until some policy asks to listen, a round
// produces nothing, the session stops being active or the cap is reached.
func (p *Processor) loop(ctx context.Context, out channel.OutputChannel, s *session.Session, log zerolog.Logger) (int, error) {
	for round := 1; round <= p.maxPredictions; round++ {
		if err := ctx.Err(); err != nil {
			return round - 1, err
		}

		predictStart := time.Now()
		preds, err := p.predict(ctx, s, log)
		p.window.Since(observability.StagePredict, predictStart)
		if err != nil {
			return round, err
		}
		if len(preds) == 0 {
			return round, nil
		}

		if pred, disable := findDisable(preds); disable != nil {
			events := p.runAction(ctx, disable, pred.PolicyName, pred.Metadata, out, s.Clone())
			s.ApplyMany(events, true)
			log.Info().Str("policy", pred.PolicyName).Int("round", round).Msg("session disabled")
			return round, p.persist(ctx, s, events...)
		}

		execStart := time.Now()
		events := p.execute(ctx, preds, out, s.Clone())
		p.window.Since(observability.StageExecute, execStart)

		if len(events) > 0 {
			s.ApplyMany(events, true)
			if err := p.persist(ctx, s, events...); err != nil {
				return round, err
			}
		}

		listen := false
		for _, pred := range preds {
			if pred.Has(action.Listen) {
				listen = true
				break
			}
		}
		if listen || len(events) == 0 || !s.Active() {
			log.Debug().Int("rounds", round).Int("events", len(events)).Bool("listen", listen).Msg("turn complete")
			return round, nil
		}
	}

	log.Error().Int("max", p.maxPredictions).Msg("prediction cap reached")
	p.window.ObserveIndicator("too_many_predictions")
	if p.onCircuitBreak != nil {
		p.onCircuitBreak(s.ID(), p.maxPredictions)
	}
	return p.maxPredictions, fmt.Errorf("%w: session %s after %d rounds", ErrTooManyPredictions, s.ID(), p.maxPredictions)
}

// predict gathers every policy's answer for the round, ordered as the
// policies are configured. A fatal policy error aborts the round before
// anything is applied; other failures only drop that policy's vote.
func (p *Processor) predict(ctx context.Context, s *session.Session, log zerolog.Logger) ([]*policy.Prediction, error) {
	var results []policy.Result
	for res := range p.policies.Run(ctx, s) {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	var preds []*policy.Prediction
	for _, res := range results {
		if res.Err != nil {
			fatal := reliability.IsFatal(res.Err)
			p.metrics.ObservePolicyError(res.Policy, fatal)
			if fatal {
				return nil, res.Err
			}
			log.Warn().Err(res.Err).Str("policy", res.Policy).Msg("policy failed, skipping")
			p.window.ObserveIndicator("policy_error")
			continue
		}
		if res.Prediction == nil || len(res.Prediction.Actions) == 0 {
			continue
		}
		p.metrics.ObservePrediction(res.Policy)
		preds = append(preds, res.Prediction)
	}
	return preds, nil
}

func findDisable(preds []*policy.Prediction) (*policy.Prediction, action.Action) {
	for _, pred := range preds {
		for _, a := range pred.Actions {
			if a.Name() == action.DisableSession {
				return pred, a
			}
		}
	}
	return nil, nil
}

// execute runs predictions concurrently against one snapshot and returns
// their events in prediction order. Within a prediction actions run in
// sequence.
func (p *Processor) execute(ctx context.Context, preds []*policy.Prediction, out channel.OutputChannel, snapshot *session.Session) []session.Event {
	batches := make([][]session.Event, len(preds))
	var wg sync.WaitGroup
	for i, pred := range preds {
		wg.Add(1)
		go func(i int, pred *policy.Prediction) {
			defer wg.Done()
			var events []session.Event
			for _, a := range pred.Actions {
				events = append(events, p.runAction(ctx, a, pred.PolicyName, pred.Metadata, out, snapshot)...)
			}
			batches[i] = events
		}(i, pred)
	}
	wg.Wait()

	var events []session.Event
	for _, b := range batches {
		events = append(events, b...)
	}
	return events
}

type actionOutcome struct {
	events []session.Event
	err    error
}

// runAction runs a under the action timeout. Any error, panic or timeout
// becomes a single ActionFailed event.
func (p *Processor) runAction(ctx context.Context, a action.Action, policyName string, meta map[string]any, out channel.OutputChannel, s *session.Session) []session.Event {
	ctx, cancel := context.WithTimeout(ctx, p.actionTimeout)
	defer cancel()

	done := make(chan actionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- actionOutcome{err: fmt.Errorf("action %s panicked: %v", a.Name(), r)}
			}
		}()
		events, err := a.Run(ctx, out, s)
		done <- actionOutcome{events: events, err: err}
	}()

	var res actionOutcome
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		p.metrics.ObserveAction(a.Name(), false)
		p.window.ObserveIndicator("action_failed")
		p.log.Warn().Err(res.err).Str("session_id", s.ID()).Str("action", a.Name()).Str("policy", policyName).Msg("action failed")
		failed := session.NewActionFailed(a.Name(), policyName, res.err)
		failed.Metadata = maps.Clone(meta)
		return []session.Event{failed}
	}

	p.metrics.ObserveAction(a.Name(), true)
	executed := session.NewActionExecuted(a.Name(), policyName)
	executed.Metadata = maps.Clone(meta)
	return append(res.events, executed)
}

func (p *Processor) lock(ctx context.Context, id string) (func(), error) {
	unlock, err := p.locks.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	p.metrics.SessionLocked(1)
	return func() {
		p.metrics.SessionLocked(-1)
		unlock()
	}, nil
}

func (p *Processor) fetchOrCreate(ctx context.Context, id string) (*session.Session, error) {
	s, err := p.store.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	s, err = p.store.Create(ctx, id)
	if errors.Is(err, session.ErrExists) {
		// Created by another process between Get and Create.
		return p.store.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	return s, nil
}

// startIfNew runs session_start on a fresh session and on a parked one, which
// brings it back to active.
func (p *Processor) startIfNew(ctx context.Context, out channel.OutputChannel, s *session.Session) error {
	fresh := len(s.Events()) == 0 && s.Active()
	if !fresh && s.Status() != session.StatusPending {
		return nil
	}
	events := p.runAction(ctx, p.sessionStart, "", nil, out, s.Clone())
	s.ApplyMany(events, true)
	return p.persist(ctx, s, events...)
}

func (p *Processor) logMessage(ctx context.Context, msg UserMessage, s *session.Session) ([]session.Event, error) {
	parseStart := time.Now()
	var parse session.ParseData
	if msg.ParseData != nil {
		parse = *msg.ParseData
	} else {
		parsed, err := p.parser.Parse(ctx, msg.Text, s)
		if err != nil {
			p.log.Warn().Err(err).Str("session_id", s.ID()).Msg("nlu failed, continuing without parse data")
		} else {
			parse = parsed
		}
	}
	p.window.Since(observability.StageParse, parseStart)

	uttered := session.NewUserUttered(msg.MessageID, msg.Text, msg.InputChannel, parse)
	if len(msg.Metadata) > 0 {
		uttered.Metadata = maps.Clone(msg.Metadata)
	}
	s.Apply(uttered)
	return []session.Event{uttered}, nil
}

// persist saves s and then publishes the events that led to this state.
func (p *Processor) persist(ctx context.Context, s *session.Session, events ...session.Event) error {
	start := time.Now()
	err := p.store.Save(ctx, s)
	p.window.Since(observability.StagePersist, start)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID(), err)
	}
	if p.bus != nil && len(events) > 0 {
		if err := p.bus.Publish(s.ID(), events...); err != nil {
			p.log.Warn().Err(err).Str("session_id", s.ID()).Msg("publish events failed")
		}
	}
	return nil
}

// StartSession creates the session if needed and runs session_start on it.
func (p *Processor) StartSession(ctx context.Context, id string, out channel.OutputChannel) (*session.Session, error) {
	if out == nil {
		out = channel.Discard
	}
	if id == "" {
		s, err := p.store.Create(ctx, "")
		if err != nil {
			return nil, err
		}
		id = s.ID()
	}
	unlock, err := p.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := p.fetchOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.startIfNew(ctx, out, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Session returns the stored session.
func (p *Processor) Session(ctx context.Context, id string) (*session.Session, error) {
	return p.store.Get(ctx, id)
}

func (p *Processor) DeleteSession(ctx context.Context, id string) error {
	unlock, err := p.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := p.store.Get(ctx, id); err != nil {
		return err
	}
	return p.store.Delete(ctx, id)
}
