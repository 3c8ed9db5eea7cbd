package slots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store persists sessions. GetSession returns ErrSessionNotFound for an
// unknown id. Implementations need not serialize writes: the engine holds a
// per-session lock around every read-modify-write.
type Store interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	PutSession(ctx context.Context, s *Session) error
}

// Extractor turns free text into raw slot values. The returned map may be
// empty, may omit slots, and may contain names the schema does not declare.
type Extractor interface {
	Extract(ctx context.Context, text string, schema Schema, history []Turn) (map[string]any, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string, schema Schema, history []Turn) (map[string]any, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, text string, schema Schema, history []Turn) (map[string]any, error) {
	return f(ctx, text, schema, history)
}

// SuggestFunc renders the final answer once every required slot is present.
type SuggestFunc func(schema Schema, slots map[string]SlotValue) string

// UnknownSlotPolicy selects how extractions naming undeclared slots are handled.
type UnknownSlotPolicy int

const (
	// IgnoreUnknown drops undeclared slot names silently.
	IgnoreUnknown UnknownSlotPolicy = iota
	// RejectUnknown fails the turn with ErrSchemaMismatch.
	RejectUnknown
)

// ParseUnknownSlotPolicy parses "ignore" or "fail".
func ParseUnknownSlotPolicy(s string) (UnknownSlotPolicy, error) {
	switch s {
	case "", "ignore":
		return IgnoreUnknown, nil
	case "fail", "reject":
		return RejectUnknown, nil
	}
	return IgnoreUnknown, fmt.Errorf("unknown slot policy %q", s)
}

// ActionKind is the engine's decision for a turn.
type ActionKind string

const (
	ActionAskFor  ActionKind = "ask_for"
	ActionSuggest ActionKind = "suggest"
)

// Action is the result of advancing a session by one turn.
type Action struct {
	Kind ActionKind
	// Slot is the slot being asked for when Kind is ActionAskFor.
	Slot string
	// Text is the assistant reply appended to the history.
	Text string
	// Dropped lists slots whose extracted value failed type coercion.
	Dropped []string
	// Collected holds the slot values a suggestion was built from.
	Collected map[string]SlotValue
}

// Options configures an Engine.
type Options struct {
	UnknownSlots      UnknownSlotPolicy
	ExtractionTimeout time.Duration
	Suggest           SuggestFunc
	Now               func() time.Time
	Logger            *slog.Logger
}

// Engine merges extracted slot values into sessions and decides the next
// assistant action.
type Engine struct {
	schema    Schema
	store     Store
	extractor Extractor
	opts      Options
	locks     *keyedMutex
}

// NewEngine creates an engine. store and extractor are only needed by Submit;
// Advance works without them.
func NewEngine(schema Schema, store Store, extractor Extractor, opts Options) (*Engine, error) {
	if schema.Len() == 0 {
		return nil, fmt.Errorf("engine requires a non-empty schema")
	}
	if opts.Suggest == nil {
		opts.Suggest = Summarize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		schema:    schema,
		store:     store,
		extractor: extractor,
		opts:      opts,
		locks:     newKeyedMutex(),
	}, nil
}

// Schema returns the engine's slot schema.
func (e *Engine) Schema() Schema { return e.schema }

// Advance applies one turn to s: it merges partial into the slot set, decides
// the next action and records both sides of the exchange in the history.
// On error s is not modified.
func (e *Engine) Advance(s *Session, partial map[string]any, userText string) (Action, error) {
	if s == nil {
		return Action{}, ErrUnknownSession
	}
	if e.opts.UnknownSlots == RejectUnknown {
		if unknown := e.unknownSlots(partial); len(unknown) > 0 {
			return Action{}, fmt.Errorf("%w: undeclared slots %v", ErrSchemaMismatch, unknown)
		}
	}
	if s.Slots == nil {
		s.clearSlots(e.schema)
	}

	now := e.opts.Now()
	var action Action

	// Schema order keeps the merge deterministic regardless of map order.
	for _, d := range e.schema.defs {
		raw, ok := partial[d.Name]
		if !ok || raw == nil {
			continue
		}
		typed, err := d.Coerce(raw)
		if err != nil {
			s.Slots[d.Name] = SlotValue{Name: d.Name, Type: d.Type, Raw: fmt.Sprint(raw)}
			action.Dropped = append(action.Dropped, d.Name)
			e.opts.Logger.Debug("Dropped slot value", "session_id", s.ID, "slot", d.Name, "error", err)
			continue
		}
		s.Slots[d.Name] = SlotValue{Name: d.Name, Type: d.Type, Raw: fmt.Sprint(raw), Value: typed, Present: true}
	}

	s.AllCollected = s.complete(e.schema)
	s.History = append(s.History, Turn{Sender: SenderUser, Text: userText, Timestamp: now})

	if s.AllCollected {
		collected := make(map[string]SlotValue, len(s.Slots))
		for k, v := range s.Slots {
			collected[k] = v
		}
		action.Kind = ActionSuggest
		action.Collected = collected
		action.Text = e.opts.Suggest(e.schema, collected)
		s.clearSlots(e.schema)
		s.History = append(s.History, Turn{Sender: SenderAssistant, Text: action.Text, Timestamp: now})
	} else {
		d := e.firstMissing(s)
		action.Kind = ActionAskFor
		action.Slot = d.Name
		action.Text = d.Prompt()
		for _, name := range action.Dropped {
			if name == d.Name {
				action.Text = "Sorry, I didn't catch that. " + action.Text
				break
			}
		}
		s.History = append(s.History, Turn{Sender: SenderAssistant, Text: action.Text, Timestamp: now, AskedFor: d.Name})
	}

	s.UpdatedAt = now
	return action, nil
}

func (e *Engine) firstMissing(s *Session) Definition {
	for _, d := range e.schema.defs {
		if d.Required && !s.Slots[d.Name].Present {
			return d
		}
	}
	// Unreachable while AllCollected is false.
	return e.schema.defs[0]
}

func (e *Engine) unknownSlots(partial map[string]any) []string {
	var unknown []string
	for k := range partial {
		if _, ok := e.schema.index[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// SubmitRequest is one inbound chat message.
type SubmitRequest struct {
	SessionID string
	Text      string
	// Create allows a missing session to be started by this message.
	Create bool
}

// Result is the outcome of Submit.
type Result struct {
	Action                 Action
	AssistantText          string
	AllParametersCollected bool
	Session                *Session
}

// Submit runs one full turn for a session: load, extract, advance, persist.
// Turns for the same session are serialized. Either every step succeeds or
// the stored session is left exactly as it was.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if e.store == nil || e.extractor == nil {
		return nil, fmt.Errorf("engine has no store or extractor configured")
	}

	unlock := e.locks.Lock(req.SessionID)
	defer unlock()

	sess, err := e.store.GetSession(ctx, req.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		if !req.Create {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, req.SessionID)
		}
		sess = NewSession(req.SessionID, e.schema, e.opts.Now())
	case err != nil:
		return nil, fmt.Errorf("%w: load %s: %v", ErrStoreUnavailable, req.SessionID, err)
	}

	partial, err := e.extract(ctx, req.Text, sess.History)
	if err != nil {
		return nil, err
	}

	work := sess.Clone()
	action, err := e.Advance(work, partial, req.Text)
	if err != nil {
		return nil, err
	}

	if err := e.store.PutSession(ctx, work); err != nil {
		return nil, fmt.Errorf("%w: save %s: %v", ErrStoreUnavailable, req.SessionID, err)
	}

	return &Result{
		Action:                 action,
		AssistantText:          action.Text,
		AllParametersCollected: action.Kind == ActionSuggest,
		Session:                work,
	}, nil
}

// Session returns the stored state of a session.
func (e *Engine) Session(ctx context.Context, id string) (*Session, error) {
	sess, err := e.store.GetSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrStoreUnavailable, id, err)
	}
	return sess, nil
}

// extract calls the extractor under the configured timeout. A late answer is
// abandoned; the extractor goroutine finishes on its own.
func (e *Engine) extract(ctx context.Context, text string, history []Turn) (map[string]any, error) {
	if e.opts.ExtractionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ExtractionTimeout)
		defer cancel()
	}

	hist := make([]Turn, len(history))
	copy(hist, history)

	type result struct {
		partial map[string]any
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := e.extractor.Extract(ctx, text, e.schema, hist)
		ch <- result{partial: p, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrExtractionTimeout, e.opts.ExtractionTimeout)
		}
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrExtractionTimeout, r.err)
			}
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, r.err)
		}
		return r.partial, nil
	}
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
