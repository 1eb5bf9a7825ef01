package risk

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/SaganGromov/polybot/pkg/types"
)

const (
	overridePollInterval = 500 * time.Millisecond
	overridePollAttempts = 20 // 20 x 0.5s = 10s total window
)

// promptManualOverride opens a filesystem-sentinel window: it clears any
// stale approval marker, logs the operator instructions, and polls for the
// marker's reappearance for up to 10s. Returns true if approved in time.
func (m *Manager) promptManualOverride(ctx context.Context, marketLabel string, analysis types.TradeAnalysis) bool {
	if err := os.MkdirAll(m.overrideDir, 0o755); err != nil {
		m.logger.Error("override: failed to create sentinel dir", "error", err)
		return false
	}

	marker := filepath.Join(m.overrideDir, "approve")
	_ = os.Remove(marker) // clear any stale approval from a prior trade

	m.logger.Warn("manual override window open",
		"market", marketLabel,
		"ai_justification", analysis.Justification,
		"risk_factors", analysis.RiskFactors,
		"opportunity_factors", analysis.OpportunityFactors,
		"approve_with", "touch "+marker,
		"window_seconds", overridePollAttempts/2,
	)

	ticker := time.NewTicker(overridePollInterval)
	defer ticker.Stop()

	for i := 0; i < overridePollAttempts; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if _, err := os.Stat(marker); err == nil {
				_ = os.Remove(marker)
				return true
			}
		}
	}
	return false
}
