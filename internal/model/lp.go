package model

import "time"

// LPType classifies a limited partner institution.
type LPType string

const (
	LPPension         LPType = "pension"
	LPEndowment       LPType = "endowment"
	LPFamilyOffice    LPType = "family_office"
	LPInsurance       LPType = "insurance"
	LPSovereignWealth LPType = "sovereign_wealth"
	LPFundOfFunds     LPType = "fund_of_funds"
	LPFoundation      LPType = "foundation"
)

// Contact is an optional decision-maker record on an LP profile.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`
}

// LPProfile describes a limited partner. LP profiles are shared globally and
// read-only to GPs; only LastUpdated drives staleness warnings.
type LPProfile struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Type          LPType         `json:"type"`
	Mandate       string         `json:"mandate"`
	StrategyTags  []string       `json:"strategy_tags"`
	GeographyTags []string       `json:"geography_tags"`
	SectorTags    []string       `json:"sector_tags"`
	CheckSize     CheckSizeRange `json:"check_size"`
	AUM           int64          `json:"aum"`
	ESG           ESGPosture     `json:"esg"`
	Contact       *Contact       `json:"contact,omitempty"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// Tags returns the union of strategy, geography, and sector tags.
func (lp *LPProfile) Tags() []string {
	out := make([]string, 0, len(lp.StrategyTags)+len(lp.GeographyTags)+len(lp.SectorTags))
	out = append(out, lp.StrategyTags...)
	out = append(out, lp.GeographyTags...)
	out = append(out, lp.SectorTags...)
	return out
}
