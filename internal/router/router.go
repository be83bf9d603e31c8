// Package router dispatches UI messages to the focus-mode handlers.
package router

import (
	"context"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Message actions.
const (
	ActionToggleBlocking     = "toggleBlocking"
	ActionStartTimer         = "startTimer"
	ActionGetStatus          = "getStatus"
	ActionGetAllowedSites    = "getAllowedSites"
	ActionUpdateAllowedSites = "updateAllowedSites"
	ActionGetRemainingTime   = "getRemainingTime"
)

// UnknownActionMessage is the error text for unrecognised actions.
const UnknownActionMessage = "Unknown action"

// Message is a request from a UI surface.
type Message struct {
	Action   string   `json:"action"`
	Duration int      `json:"duration,omitempty"` // minutes, startTimer only
	Sites    []string `json:"sites,omitempty"`    // updateAllowedSites only
}

// ErrorResponse is returned in place of a result when a handler fails.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Backend is the set of handlers the router dispatches to.
type Backend interface {
	ToggleBlocking(ctx context.Context) (*domain.ToggleResult, error)
	StartTimerMode(ctx context.Context, minutes int) (bool, error)
	GetFullStatus(ctx context.Context) (*domain.Status, error)
	GetAllowedSites(ctx context.Context) ([]string, error)
	UpdateAllowedSites(ctx context.Context, sites []string) (bool, error)
	GetRemainingTime(ctx context.Context) (*int, error)
}

// Router maps actions to Backend calls.
type Router struct {
	backend Backend
	logger  *zap.Logger
}

// New creates a router over backend.
func New(backend Backend, logger *zap.Logger) *Router {
	return &Router{backend: backend, logger: logger}
}

// IsKnownAction reports whether action has a handler.
func IsKnownAction(action string) bool {
	switch action {
	case ActionToggleBlocking, ActionStartTimer, ActionGetStatus,
		ActionGetAllowedSites, ActionUpdateAllowedSites, ActionGetRemainingTime:
		return true
	}
	return false
}

// Route runs the handler for msg and returns its JSON-ready result, or an
// ErrorResponse. It always returns a value.
func (r *Router) Route(ctx context.Context, msg Message) any {
	if !IsKnownAction(msg.Action) {
		r.logger.Warn("unknown action", zap.String("action", msg.Action))
		return ErrorResponse{Error: UnknownActionMessage}
	}

	result, err := r.dispatch(ctx, msg)
	if err != nil {
		r.logger.Warn("action failed", zap.String("action", msg.Action), zap.Error(err))
		return ErrorResponse{Error: err.Error()}
	}

	r.logger.Debug("action handled", zap.String("action", msg.Action))
	return result
}

func (r *Router) dispatch(ctx context.Context, msg Message) (any, error) {
	switch msg.Action {
	case ActionToggleBlocking:
		return r.backend.ToggleBlocking(ctx)
	case ActionStartTimer:
		return r.backend.StartTimerMode(ctx, msg.Duration)
	case ActionGetStatus:
		return r.backend.GetFullStatus(ctx)
	case ActionGetAllowedSites:
		return r.backend.GetAllowedSites(ctx)
	case ActionUpdateAllowedSites:
		return r.backend.UpdateAllowedSites(ctx, msg.Sites)
	default:
		return r.backend.GetRemainingTime(ctx)
	}
}
