package infra

import (
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// SystemClock implements domain.Clock with the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

var _ domain.Clock = SystemClock{}
