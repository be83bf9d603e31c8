package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// memoryStore implements domain.StateStore in memory, keeping raw JSON like the real store.
type memoryStore struct {
	values map[string]json.RawMessage
	getErr error
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]json.RawMessage)}
}

func (m *memoryStore) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make(map[string]json.RawMessage)
	for _, k := range keys {
		if v, ok := m.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *memoryStore) Set(ctx context.Context, values map[string]any) error {
	if m.setErr != nil {
		return m.setErr
	}
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.values[k] = data
	}
	return nil
}

// fakeRuleEngine implements domain.RuleEngine with the same atomic and
// duplicate-ID semantics as the real engine.
type fakeRuleEngine struct {
	rules     map[int]domain.Rule
	updates   int
	updateErr error
	getErr    error
}

func newFakeRuleEngine() *fakeRuleEngine {
	return &fakeRuleEngine{rules: make(map[int]domain.Rule)}
}

func (f *fakeRuleEngine) GetDynamicRules(ctx context.Context) ([]domain.Rule, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := make([]domain.Rule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRuleEngine) UpdateDynamicRules(ctx context.Context, update domain.RuleUpdate) error {
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	next := make(map[int]domain.Rule, len(f.rules))
	for id, r := range f.rules {
		next[id] = r
	}
	for _, id := range update.RemoveRuleIDs {
		delete(next, id)
	}
	for _, r := range update.AddRules {
		if _, ok := next[r.ID]; ok {
			return fmt.Errorf("duplicate rule id %d", r.ID)
		}
		next[r.ID] = r
	}
	f.rules = next
	return nil
}

func (f *fakeRuleEngine) filters() []string {
	rules, _ := f.GetDynamicRules(context.Background())
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Condition.URLFilter
	}
	return out
}

// fakeAlarms implements domain.AlarmScheduler and lets tests fire alarms by hand.
type fakeAlarms struct {
	scheduled map[string]time.Time
	created   int
}

func newFakeAlarms() *fakeAlarms {
	return &fakeAlarms{scheduled: make(map[string]time.Time)}
}

func (f *fakeAlarms) Create(name string, when time.Time) {
	f.created++
	f.scheduled[name] = when
}

func (f *fakeAlarms) Clear(name string) bool {
	_, ok := f.scheduled[name]
	delete(f.scheduled, name)
	return ok
}

// fakeIndicator records badges.
type fakeIndicator struct {
	badges []domain.Badge
	err    error
}

func (f *fakeIndicator) SetBadge(b domain.Badge) error {
	f.badges = append(f.badges, b)
	return f.err
}

func (f *fakeIndicator) last() domain.Badge {
	if len(f.badges) == 0 {
		return domain.Badge{}
	}
	return f.badges[len(f.badges)-1]
}

// fakeNotifier records notifications.
type fakeNotifier struct {
	titles   []string
	messages []string
	err      error
}

func (f *fakeNotifier) Notify(title, message string) error {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
	return f.err
}

// fakeClock is a settable clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errStoreDown = errors.New("store unavailable")

var testSites = []string{"github.com", "golang.org", "wikipedia.org"}

// testEnv wires every usecase against in-memory fakes.
type testEnv struct {
	store     *memoryStore
	engine    *fakeRuleEngine
	alarms    *fakeAlarms
	indicator *fakeIndicator
	notifier  *fakeNotifier
	clock     *fakeClock

	state    *StateAccessor
	sync     *RuleSynchronizer
	timer    *TimerController
	blocking *BlockingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		store:     newMemoryStore(),
		engine:    newFakeRuleEngine(),
		alarms:    newFakeAlarms(),
		indicator: &fakeIndicator{},
		notifier:  &fakeNotifier{},
		clock:     &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	logger := zap.NewNop()
	e.state = NewStateAccessor(e.store, 60, testSites)
	e.sync = NewRuleSynchronizer(e.state, e.engine, logger)
	e.timer = NewTimerController(e.state, e.sync, e.alarms, e.indicator, e.notifier, e.clock, logger)
	e.blocking = NewBlockingService(e.state, e.sync, e.indicator, logger)
	return e
}

func (e *testEnv) mustLoad(t *testing.T) *domain.State {
	t.Helper()
	s, err := e.state.Load(context.Background())
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	return s
}
