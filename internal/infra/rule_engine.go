package infra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AdguardTeam/urlfilter/rules"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Rule engine errors. UpdateDynamicRules leaves the installed set untouched
// when it returns one of these.
var (
	ErrInvalidRule     = errors.New("invalid rule")
	ErrDuplicateRuleID = errors.New("duplicate rule id")
	ErrRuleLimit       = errors.New("dynamic rule limit exceeded")
)

// matchAllFilter is the url filter that matches every URL.
const matchAllFilter = "*"

// dynamicRulesListID tags compiled urlfilter rules.
const dynamicRulesListID = 1

type compiledRule struct {
	rule    domain.Rule
	network *rules.NetworkRule // nil for matchAllFilter
}

// FilterEngine implements domain.RuleEngine on top of AdGuard urlfilter.
// Rules are persisted through a domain.RulePersister so they survive restarts,
// and are evaluated by Decide for the DNS guard. Safe for concurrent use.
type FilterEngine struct {
	mu        sync.RWMutex
	compiled  map[int]compiledRule
	persister domain.RulePersister
	limit     int
	logger    *zap.Logger
}

// NewFilterEngine loads persisted rules (if persister is non-nil) and compiles them.
// A limit below 1 disables the rule cap.
func NewFilterEngine(ctx context.Context, persister domain.RulePersister, limit int, logger *zap.Logger) (*FilterEngine, error) {
	e := &FilterEngine{
		compiled:  make(map[int]compiledRule),
		persister: persister,
		limit:     limit,
		logger:    logger,
	}

	if persister == nil {
		return e, nil
	}

	stored, err := persister.LoadRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dynamic rules: %w", err)
	}
	for _, r := range stored {
		c, err := compileRule(r)
		if err != nil {
			// A rule that no longer compiles is dropped rather than blocking startup.
			logger.Warn("dropping stored rule", zap.Int("id", r.ID), zap.Error(err))
			continue
		}
		e.compiled[r.ID] = c
	}

	logger.Debug("dynamic rules loaded", zap.Int("rules", len(e.compiled)))
	return e, nil
}

// GetDynamicRules returns installed rules ordered by ID.
func (e *FilterEngine) GetDynamicRules(ctx context.Context) ([]domain.Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.snapshotLocked(), nil
}

// UpdateDynamicRules removes RemoveRuleIDs, then adds AddRules. Either the
// whole update applies or nothing does.
func (e *FilterEngine) UpdateDynamicRules(ctx context.Context, update domain.RuleUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[int]compiledRule, len(e.compiled)+len(update.AddRules))
	for id, c := range e.compiled {
		next[id] = c
	}
	for _, id := range update.RemoveRuleIDs {
		delete(next, id)
	}

	for _, r := range update.AddRules {
		if _, exists := next[r.ID]; exists {
			return fmt.Errorf("%w: %d", ErrDuplicateRuleID, r.ID)
		}
		c, err := compileRule(r)
		if err != nil {
			return err
		}
		next[r.ID] = c
	}

	if e.limit > 0 && len(next) > e.limit {
		return fmt.Errorf("%w: %d > %d", ErrRuleLimit, len(next), e.limit)
	}

	prev := e.compiled
	e.compiled = next

	if e.persister != nil {
		if err := e.persister.ReplaceRules(ctx, e.snapshotLocked()); err != nil {
			e.compiled = prev
			return fmt.Errorf("failed to persist dynamic rules: %w", err)
		}
	}

	e.logger.Debug("dynamic rules updated",
		zap.Int("removed", len(update.RemoveRuleIDs)),
		zap.Int("added", len(update.AddRules)),
		zap.Int("installed", len(next)))
	return nil
}

// Decide evaluates a top-level navigation to host.
func (e *FilterEngine) Decide(host string) domain.Verdict {
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	return e.Evaluate("https://"+host+"/", domain.ResourceMainFrame)
}

// Evaluate returns the verdict of the highest-priority rule matching url.
// On equal priority allow wins over block. No match means allowed.
func (e *FilterEngine) Evaluate(url string, rt domain.ResourceType) domain.Verdict {
	e.mu.RLock()
	defer e.mu.RUnlock()

	req := rules.NewRequest(strings.ToLower(url), "", rules.TypeDocument)

	var best *domain.Rule
	for id := range e.compiled {
		c := e.compiled[id]
		if !c.matches(req, rt) {
			continue
		}
		if best == nil || outranks(c.rule, *best) {
			r := c.rule
			best = &r
		}
	}

	if best == nil {
		return domain.Verdict{}
	}
	return domain.Verdict{
		Blocked: best.Action.Type == domain.ActionBlock,
		RuleID:  best.ID,
	}
}

func (e *FilterEngine) snapshotLocked() []domain.Rule {
	out := make([]domain.Rule, 0, len(e.compiled))
	for _, c := range e.compiled {
		out = append(out, c.rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c compiledRule) matches(req *rules.Request, rt domain.ResourceType) bool {
	if len(c.rule.Condition.ResourceTypes) > 0 {
		found := false
		for _, t := range c.rule.Condition.ResourceTypes {
			if t == rt {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.network == nil {
		return true
	}
	return c.network.Match(req)
}

// outranks reports whether a takes precedence over b.
func outranks(a, b domain.Rule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Action.Type != b.Action.Type {
		return a.Action.Type == domain.ActionAllow
	}
	return a.ID < b.ID
}

func compileRule(r domain.Rule) (compiledRule, error) {
	if r.ID < 1 {
		return compiledRule{}, fmt.Errorf("%w: id %d must be positive", ErrInvalidRule, r.ID)
	}
	if r.Priority < 1 {
		return compiledRule{}, fmt.Errorf("%w: rule %d priority must be positive", ErrInvalidRule, r.ID)
	}
	switch r.Action.Type {
	case domain.ActionAllow, domain.ActionBlock:
	default:
		return compiledRule{}, fmt.Errorf("%w: rule %d has unknown action %q", ErrInvalidRule, r.ID, r.Action.Type)
	}

	filter := strings.TrimSpace(r.Condition.URLFilter)
	if filter == "" {
		return compiledRule{}, fmt.Errorf("%w: rule %d has empty url filter", ErrInvalidRule, r.ID)
	}
	if filter == matchAllFilter {
		return compiledRule{rule: r}, nil
	}

	nr, err := rules.NewNetworkRule(strings.ToLower(filter), dynamicRulesListID)
	if err != nil {
		return compiledRule{}, fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, r.ID, err)
	}
	return compiledRule{rule: r, network: nr}, nil
}

var _ domain.RuleEngine = (*FilterEngine)(nil)
