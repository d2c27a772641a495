package model

import "time"

// CheckSizeRange is a target investment size band in USD.
// A zero Min and Max means the range is not stated.
type CheckSizeRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

// IsZero reports whether no range was stated.
func (r CheckSizeRange) IsZero() bool {
	return r.Min == 0 && r.Max == 0
}

// ESGPosture is a declared ESG stance on either side of a match.
type ESGPosture string

const (
	ESGUnstated    ESGPosture = ""
	ESGRequired    ESGPosture = "required"
	ESGPreferred   ESGPosture = "preferred"
	ESGIndifferent ESGPosture = "indifferent"
)

// TrackRecordEntry is a single realized deal in a fund's history.
type TrackRecordEntry struct {
	Deal     string     `json:"deal"`
	Sector   string     `json:"sector"`
	MOIC     float64    `json:"moic"`
	ExitDate *time.Time `json:"exit_date,omitempty"`
}

// FundProfile is the GP-owned fund description used as the scoring and
// pitch-generation input. Profiles are immutable per version: edits create a
// new version so staleness against previously computed scores is detectable.
type FundProfile struct {
	ID            string             `json:"id"`
	OrgID         string             `json:"org_id"`
	Name          string             `json:"name"`
	Version       int                `json:"version"`
	StrategyTags  []string           `json:"strategy_tags"`
	GeographyTags []string           `json:"geography_tags"`
	SectorTags    []string           `json:"sector_tags"`
	CheckSize     CheckSizeRange     `json:"check_size"`
	TrackRecord   []TrackRecordEntry `json:"track_record,omitempty"`
	ESG           ESGPosture         `json:"esg"`
	Thesis        string             `json:"thesis"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Tags returns the union of strategy, geography, and sector tags.
func (f *FundProfile) Tags() []string {
	out := make([]string, 0, len(f.StrategyTags)+len(f.GeographyTags)+len(f.SectorTags))
	out = append(out, f.StrategyTags...)
	out = append(out, f.GeographyTags...)
	out = append(out, f.SectorTags...)
	return out
}
