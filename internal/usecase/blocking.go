package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// ErrTimerActive is returned when manual blocking is toggled while a focus timer runs.
var ErrTimerActive = errors.New("cannot disable blocking during timer mode")

// BlockingService handles manual allow-list mode and the allow-list itself.
type BlockingService struct {
	state     *StateAccessor
	sync      *RuleSynchronizer
	indicator domain.Indicator
	logger    *zap.Logger
}

// NewBlockingService creates a new blocking service.
func NewBlockingService(state *StateAccessor, sync *RuleSynchronizer, indicator domain.Indicator, logger *zap.Logger) *BlockingService {
	return &BlockingService{
		state:     state,
		sync:      sync,
		indicator: indicator,
		logger:    logger,
	}
}

// ToggleBlocking flips manual allow-list mode. It fails with ErrTimerActive
// while a timer runs and then changes nothing.
func (b *BlockingService) ToggleBlocking(ctx context.Context) (*domain.ToggleResult, error) {
	s, err := b.state.Load(ctx)
	if err != nil {
		return nil, err
	}
	if s.TimerMode {
		return nil, ErrTimerActive
	}

	enabled := !s.BlockingEnabled
	if err := b.state.SetBlockingEnabled(ctx, enabled); err != nil {
		return nil, err
	}

	badge := domain.BadgeInactive
	if enabled {
		b.sync.EnableAllowListMode(ctx)
		badge = domain.BadgeManual
	} else {
		b.sync.DisableAllowListMode(ctx)
	}
	if err := b.indicator.SetBadge(badge); err != nil {
		b.logger.Warn("failed to update badge", zap.Error(err))
	}

	b.logger.Info("blocking toggled", zap.Bool("enabled", enabled))
	return &domain.ToggleResult{Success: true, Enabled: enabled}, nil
}

// UpdateAllowedSites overwrites the allow-list as given and rebuilds the
// rules if blocking is enabled.
func (b *BlockingService) UpdateAllowedSites(ctx context.Context, sites []string) (bool, error) {
	if err := b.state.SetAllowedSites(ctx, sites); err != nil {
		return false, err
	}

	s, err := b.state.Load(ctx)
	if err != nil {
		return false, err
	}
	if s.BlockingEnabled {
		b.sync.EnableAllowListMode(ctx)
	}

	b.logger.Info("allowed sites updated",
		zap.Int("sites", len(sites)),
		zap.Bool("rules_rebuilt", s.BlockingEnabled))
	return true, nil
}

// GetAllowedSites returns the allow-list, or the default list if none is stored.
func (b *BlockingService) GetAllowedSites(ctx context.Context) ([]string, error) {
	return b.state.AllowedSites(ctx)
}

// GetFullStatus returns {blockingEnabled, timerMode, timerDuration}.
func (b *BlockingService) GetFullStatus(ctx context.Context) (*domain.Status, error) {
	return b.state.Status(ctx)
}

// Handlers combines the services behind the message router.
type Handlers struct {
	*BlockingService
	*TimerController
}
