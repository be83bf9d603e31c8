// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// State is the persisted focus-mode state. It is the single source of truth;
// the installed rule set and scheduled alarms are derived from it.
type State struct {
	BlockingEnabled bool
	TimerMode       bool
	TimerEndTime    *time.Time // nil unless TimerMode
	TimerDuration   int        // minutes
	AllowedSites    []string
}

// Status is the reduced view returned to UI surfaces.
type Status struct {
	BlockingEnabled bool `json:"blockingEnabled"`
	TimerMode       bool `json:"timerMode"`
	TimerDuration   int  `json:"timerDuration"`
}

// ToggleResult is returned after manually flipping allow-list mode.
type ToggleResult struct {
	Success bool `json:"success"`
	Enabled bool `json:"enabled"`
}

// RuleActionType is what a matching rule does to a request.
type RuleActionType string

const (
	ActionAllow RuleActionType = "allow"
	ActionBlock RuleActionType = "block"
)

// ResourceType restricts which requests a rule applies to.
type ResourceType string

// ResourceMainFrame is a top-level navigation.
const ResourceMainFrame ResourceType = "main_frame"

// RuleAction describes the effect of a rule.
type RuleAction struct {
	Type RuleActionType `json:"type"`
}

// RuleCondition describes which requests a rule matches.
type RuleCondition struct {
	URLFilter     string         `json:"urlFilter"`
	ResourceTypes []ResourceType `json:"resourceTypes,omitempty"`
}

// Rule is a declarative dynamic network rule.
type Rule struct {
	ID        int           `json:"id"`
	Priority  int           `json:"priority"`
	Action    RuleAction    `json:"action"`
	Condition RuleCondition `json:"condition"`
}

// RuleUpdate is applied atomically: removals first, then additions.
type RuleUpdate struct {
	RemoveRuleIDs []int
	AddRules      []Rule
}

// Verdict is the outcome of evaluating a request against installed rules.
type Verdict struct {
	Blocked bool
	RuleID  int // 0 when no rule matched
}

// Badge is the visual indicator shown to the user.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color"`
	Title string `json:"title"`
}

var (
	BadgeInactive = Badge{Text: "", Color: "#666666", Title: "Allow-list mode off"}
	BadgeManual   = Badge{Text: "ON", Color: "#ff4444", Title: "Allow-list mode on"}
	BadgeTimer    = Badge{Text: "⏰", Color: "#ff8800", Title: "Focus mode running"}
)

// DaemonInfo is the registry record of the running background daemon.
type DaemonInfo struct {
	PID         int    `json:"pid"`
	StartedAt   int64  `json:"started_at"`
	ControlAddr string `json:"control_addr"`
	AppVersion  string `json:"app_version,omitempty"`
	Mode        string `json:"mode,omitempty"` // "user" or "system"
}
