package factstore

import (
	"context"
	"strings"
	"sync"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// Memory is an in-process FactStore used for local runs and tests.
type Memory struct {
	mu          sync.RWMutex
	funds       map[string]model.FundProfile
	lps         map[string]model.LPProfile
	commitments []model.Commitment
}

// NewMemory creates an empty in-memory fact store.
func NewMemory() *Memory {
	return &Memory{
		funds: make(map[string]model.FundProfile),
		lps:   make(map[string]model.LPProfile),
	}
}

// PutFund adds or replaces a fund profile.
func (m *Memory) PutFund(f model.FundProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funds[f.ID] = f
}

// PutLP adds or replaces an LP profile.
func (m *Memory) PutLP(lp model.LPProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lps[lp.ID] = lp
}

// PutCommitment records a verified commitment.
func (m *Memory) PutCommitment(c model.Commitment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitments = append(m.commitments, c)
}

func (m *Memory) Fund(_ context.Context, id string) (*model.FundProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.funds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (m *Memory) LP(_ context.Context, id string) (*model.LPProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lp, ok := m.lps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &lp, nil
}

func (m *Memory) ListLPs(_ context.Context) ([]model.LPProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.LPProfile, 0, len(m.lps))
	for _, lp := range m.lps {
		out = append(out, lp)
	}
	return out, nil
}

func (m *Memory) Commitment(_ context.Context, lpName, fundName string) (*model.Commitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.commitments {
		lp, ok := m.lps[c.LPID]
		if !ok {
			continue
		}
		if strings.EqualFold(lp.Name, lpName) && strings.EqualFold(c.FundName, fundName) {
			found := c
			return &found, nil
		}
	}
	return nil, ErrNotFound
}
