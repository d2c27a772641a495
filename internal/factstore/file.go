package factstore

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// factsFile is the on-disk shape for local runs: a single JSON document with
// the fund and LP universe plus verified commitments.
type factsFile struct {
	Funds       []model.FundProfile `json:"funds"`
	LPs         []model.LPProfile   `json:"lps"`
	Commitments []model.Commitment  `json:"commitments"`
}

// LoadFile reads a facts JSON file into an in-memory store.
func LoadFile(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "factstore: read facts file")
	}

	var f factsFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "factstore: parse facts file")
	}

	m := NewMemory()
	for _, fund := range f.Funds {
		if fund.ID == "" {
			return nil, eris.Errorf("factstore: fund %q has no id", fund.Name)
		}
		m.PutFund(fund)
	}
	for _, lp := range f.LPs {
		if lp.ID == "" {
			return nil, eris.Errorf("factstore: lp %q has no id", lp.Name)
		}
		m.PutLP(lp)
	}
	for _, c := range f.Commitments {
		m.PutCommitment(c)
	}
	return m, nil
}
