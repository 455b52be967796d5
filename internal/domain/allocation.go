package domain

import "strings"

// RiskProfile biases allocation toward stability or yield.
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"
)

// ParseRiskProfile accepts the profile name in any case.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch p := RiskProfile(strings.ToLower(strings.TrimSpace(s))); p {
	case RiskConservative, RiskModerate, RiskAggressive:
		return p, nil
	default:
		return "", ErrInvalidRiskProfile
	}
}

// RiskScore is a fixed per-profile score; it does not look at the chosen leg.
func (p RiskProfile) RiskScore() int {
	switch p {
	case RiskConservative:
		return 3
	case RiskModerate:
		return 5
	case RiskAggressive:
		return 8
	default:
		return 0
	}
}

// AllocationLeg is one provider slice of a deposit.
type AllocationLeg struct {
	Provider    string  `json:"provider"`
	Percentage  float64 `json:"percentage"`
	Amount      float64 `json:"amount"`
	ExpectedAPY float64 `json:"expectedApy"`
}

// AllocationStrategy is the optimizer's output for one deposit request.
type AllocationStrategy struct {
	TotalAmount float64         `json:"totalAmount"`
	Asset       string          `json:"asset"`
	RiskProfile RiskProfile     `json:"riskProfile"`
	Legs        []AllocationLeg `json:"legs"`
	ExpectedAPY float64         `json:"expectedApy"`
	RiskScore   int             `json:"riskScore"`
}
