package model

import "time"

// Factor names form a closed set. A factor that cannot be computed for a
// pair is carried with Available=false rather than a silent zero.
const (
	FactorStrategy = "strategy"
	FactorSizeFit  = "size_fit"
	FactorSemantic = "semantic"
	FactorESG      = "esg"
)

// FactorScore is one component of a match score. Weight is the value that
// was actually applied after renormalization, so the overall score is always
// reproducible from the breakdown alone.
type FactorScore struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
	Available bool    `json:"available"`
}

// MatchScore is an append-only scoring record for a (fund, LP) pair. When
// inputs change a new record supersedes the old one; prior records are kept
// for audit.
type MatchScore struct {
	ID               string        `json:"id"`
	FundID           string        `json:"fund_id"`
	FundVersion      int           `json:"fund_version"`
	LPID             string        `json:"lp_id"`
	Overall          int           `json:"overall"`
	Factors          []FactorScore `json:"factors"`
	InsufficientData bool          `json:"insufficient_data"`
	Stale            bool          `json:"stale"`
	ComputedAt       time.Time     `json:"computed_at"`
}

// Factor returns the named factor score and whether it is present in the
// breakdown.
func (m *MatchScore) Factor(name string) (FactorScore, bool) {
	for _, f := range m.Factors {
		if f.Name == name {
			return f, true
		}
	}
	return FactorScore{}, false
}

// SemanticScore returns the semantic factor value, or -1 when the factor was
// unavailable. Used as the secondary rank key.
func (m *MatchScore) SemanticScore() float64 {
	f, ok := m.Factor(FactorSemantic)
	if !ok || !f.Available {
		return -1
	}
	return f.Score
}
