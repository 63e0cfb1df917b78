package router

import (
	"strings"

	"mcp-core/internal/signal"
	"mcp-core/pkg/config"
	"mcp-core/pkg/db"
)

// Score weights for the auto strategy.
const (
	assetClassBonus     = 30
	speedWeight         = 10
	commissionWeight    = 2
	reliabilityWeight   = 10
	primaryBonus        = 50
	preferredAssetBonus = 20
	ratingWeight        = 5
)

// Score rates a broker for a signal of the given asset class. Capability
// and preference may each be nil; a missing side contributes nothing.
func Score(class signal.AssetClass, c *db.BrokerCapability, p *db.UserBrokerPreference) int {
	score := 0
	if c != nil {
		if containsClass(c.AssetClasses, class) {
			score += assetClassBonus
		}
		score += c.ExecutionSpeed * speedWeight
		score += (10 - c.Commission) * commissionWeight
		score += c.Reliability * reliabilityWeight
	}
	if p != nil {
		if p.IsPrimary {
			score += primaryBonus
		}
		if containsClass(p.PreferredAssetClasses, class) {
			score += preferredAssetBonus
		}
		score += p.Rating * ratingWeight
	}
	return score
}

// Candidate is a broker with its computed auto score.
type Candidate struct {
	BrokerID string `json:"brokerId"`
	Score    int    `json:"score"`
}

// rank returns the index of the highest scoring broker. Ties keep the
// earliest index.
func rank(scores []int) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

func containsClass(list []string, class signal.AssetClass) bool {
	for _, c := range list {
		if strings.EqualFold(strings.TrimSpace(c), string(class)) {
			return true
		}
	}
	return false
}

// profileCapabilities converts YAML broker profiles into capabilities
// keyed by broker id.
func profileCapabilities(profiles []config.BrokerProfile) map[string]db.BrokerCapability {
	out := make(map[string]db.BrokerCapability, len(profiles))
	for _, p := range profiles {
		out[p.ID] = db.BrokerCapability{
			BrokerID:       p.ID,
			BrokerType:     p.Type,
			AssetClasses:   p.AssetClasses,
			ExecutionSpeed: p.ExecutionSpeed,
			Commission:     p.Commission,
			Reliability:    p.Reliability,
		}
	}
	return out
}
