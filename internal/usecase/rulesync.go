package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const (
	// BlockAllRuleID is reserved for the block-all rule.
	BlockAllRuleID = 999
	// AllowRulePriority must stay above BlockRulePriority.
	AllowRulePriority = 2
	BlockRulePriority = 1
)

// RuleSynchronizer derives the dynamic rule set from the allow-list and
// applies or retracts it. Rule engine failures are logged, never returned.
type RuleSynchronizer struct {
	state  *StateAccessor
	engine domain.RuleEngine
	logger *zap.Logger
}

// NewRuleSynchronizer creates a new rule synchronizer.
func NewRuleSynchronizer(state *StateAccessor, engine domain.RuleEngine, logger *zap.Logger) *RuleSynchronizer {
	return &RuleSynchronizer{
		state:  state,
		engine: engine,
		logger: logger,
	}
}

// EnableAllowListMode rebuilds the rule set from the current allow-list:
// every installed rule is removed, then the allow pairs are added, then the
// block-all rule.
func (s *RuleSynchronizer) EnableAllowListMode(ctx context.Context) {
	sites, err := s.state.AllowedSites(ctx)
	if err != nil {
		s.logger.Error("failed to read allowed sites", zap.Error(err))
		return
	}

	s.DisableAllowListMode(ctx)

	allowRules := BuildAllowRules(sites)
	if len(allowRules) > 0 {
		if err := s.engine.UpdateDynamicRules(ctx, domain.RuleUpdate{AddRules: allowRules}); err != nil {
			s.logger.Error("failed to install allow rules",
				zap.Int("rules", len(allowRules)),
				zap.Error(err))
			return
		}
	}

	if err := s.engine.UpdateDynamicRules(ctx, domain.RuleUpdate{AddRules: []domain.Rule{BlockAllRule()}}); err != nil {
		s.logger.Error("failed to install block-all rule", zap.Error(err))
		return
	}

	s.logger.Info("allow-list mode enabled",
		zap.Int("sites", len(sites)),
		zap.Int("rules", len(allowRules)+1))
}

// DisableAllowListMode removes every installed dynamic rule.
func (s *RuleSynchronizer) DisableAllowListMode(ctx context.Context) {
	existing, err := s.engine.GetDynamicRules(ctx)
	if err != nil {
		s.logger.Error("failed to list dynamic rules", zap.Error(err))
		return
	}
	if len(existing) == 0 {
		return
	}

	ids := make([]int, len(existing))
	for i, r := range existing {
		ids[i] = r.ID
	}
	if err := s.engine.UpdateDynamicRules(ctx, domain.RuleUpdate{RemoveRuleIDs: ids}); err != nil {
		s.logger.Error("failed to remove dynamic rules",
			zap.Int("rules", len(ids)),
			zap.Error(err))
		return
	}

	s.logger.Debug("dynamic rules removed", zap.Int("rules", len(ids)))
}

// BuildAllowRules returns two allow rules per site (bare and www.), with IDs
// assigned sequentially from 1 and BlockAllRuleID skipped.
func BuildAllowRules(sites []string) []domain.Rule {
	rules := make([]domain.Rule, 0, 2*len(sites))
	id := 0
	nextID := func() int {
		id++
		if id == BlockAllRuleID {
			id++
		}
		return id
	}

	for _, site := range sites {
		for _, filter := range []string{"*://" + site + "/*", "*://www." + site + "/*"} {
			rules = append(rules, domain.Rule{
				ID:       nextID(),
				Priority: AllowRulePriority,
				Action:   domain.RuleAction{Type: domain.ActionAllow},
				Condition: domain.RuleCondition{
					URLFilter:     filter,
					ResourceTypes: []domain.ResourceType{domain.ResourceMainFrame},
				},
			})
		}
	}
	return rules
}

// BlockAllRule returns the lowest-priority rule blocking every navigation.
func BlockAllRule() domain.Rule {
	return domain.Rule{
		ID:       BlockAllRuleID,
		Priority: BlockRulePriority,
		Action:   domain.RuleAction{Type: domain.ActionBlock},
		Condition: domain.RuleCondition{
			URLFilter:     "*",
			ResourceTypes: []domain.ResourceType{domain.ResourceMainFrame},
		},
	}
}
