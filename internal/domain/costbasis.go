package domain

import (
	"fmt"
	"strings"
)

// CostBasisMethod selects how a withdrawal's realized PnL is computed.
type CostBasisMethod int

const (
	// AverageCost charges each burned share the average open cost per share.
	AverageCost CostBasisMethod = iota
	// Proportional treats cumulative withdrawals as a fraction of all flows:
	// realized = withdrawn − deposited × withdrawn/(deposited+withdrawn).
	Proportional
)

func (m CostBasisMethod) String() string {
	switch m {
	case AverageCost:
		return "average_cost"
	case Proportional:
		return "proportional"
	default:
		return "unknown"
	}
}

// ParseCostBasisMethod parses a config value case-insensitively. Empty means
// AverageCost.
func ParseCostBasisMethod(s string) (CostBasisMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "average_cost", "average":
		return AverageCost, nil
	case "proportional":
		return Proportional, nil
	default:
		return 0, fmt.Errorf("unknown cost basis method: %q", s)
	}
}
