package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

const badgeFileName = "badge.json"

// BadgeFile implements domain.Indicator by writing the badge as JSON.
// Status bar integrations (xbar, SwiftBar, waybar) poll this file.
type BadgeFile struct {
	path string
}

// NewBadgeFile creates a badge writer in dataDir.
func NewBadgeFile(dataDir string) *BadgeFile {
	return &BadgeFile{path: filepath.Join(dataDir, badgeFileName)}
}

// SetBadge replaces the badge atomically (write + rename).
func (b *BadgeFile) SetBadge(badge domain.Badge) error {
	data, err := json.Marshal(badge)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("failed to create badge dir: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", b.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Read returns the current badge. A missing file reads as inactive.
func (b *BadgeFile) Read() (domain.Badge, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.BadgeInactive, nil
		}
		return domain.Badge{}, err
	}

	var badge domain.Badge
	if err := json.Unmarshal(data, &badge); err != nil {
		return domain.Badge{}, fmt.Errorf("corrupt badge file: %w", err)
	}
	return badge, nil
}

// GetBadgePath returns the badge file path.
func (b *BadgeFile) GetBadgePath() string {
	return b.path
}

var _ domain.Indicator = (*BadgeFile)(nil)
