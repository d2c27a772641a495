package preference

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-group/lpmatch-cli/internal/config"
	"github.com/meridian-group/lpmatch-cli/internal/model"
	"github.com/meridian-group/lpmatch-cli/internal/scoring"
)

// minActiveConfidence is the floor below which a decayed preference no
// longer influences scoring or generation.
const minActiveConfidence = 0.3

// consistencyThreshold is the dominant-value fraction required before a
// preference materializes cleanly instead of as mixed.
const consistencyThreshold = 0.8

// weightNudge scales how strongly a factor-weight preference at full
// confidence shifts the base weight.
const weightNudge = 0.2

// Store is the persistence surface the learner needs. Interactions are
// append-only; preferences are derived state keyed by (org, kind, key).
type Store interface {
	AppendInteraction(ctx context.Context, it model.Interaction) error
	// RecentInteractions returns up to limit interactions for the org,
	// newest first.
	RecentInteractions(ctx context.Context, orgID string, limit int) ([]model.Interaction, error)
	Preferences(ctx context.Context, orgID string) ([]model.LearnedPreference, error)
	PutPreference(ctx context.Context, p model.LearnedPreference) error
}

// Learner observes GP interactions and derives per-organization preferences.
// Preferences never cross organization boundaries.
type Learner struct {
	cfg   config.PreferenceConfig
	store Store
	now   func() time.Time

	mu    sync.Mutex
	orgMu map[string]*sync.Mutex
}

// NewLearner creates a learner over the given store.
func NewLearner(cfg config.PreferenceConfig, store Store) *Learner {
	return &Learner{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		orgMu: make(map[string]*sync.Mutex),
	}
}

func (l *Learner) lockOrg(orgID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.orgMu[orgID]
	if !ok {
		m = &sync.Mutex{}
		l.orgMu[orgID] = m
	}
	return m
}

func (l *Learner) orgDisabled(orgID string) bool {
	for _, id := range l.cfg.DisabledOrgs {
		if id == orgID {
			return true
		}
	}
	return false
}

// Record persists an interaction and rederives the affected preference.
// Interactions are always recorded for audit; derivation is skipped for
// opted-out organizations.
func (l *Learner) Record(ctx context.Context, it model.Interaction) error {
	if it.OrgID == "" {
		return eris.New("preference: interaction requires an org id")
	}
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.At.IsZero() {
		it.At = l.now()
	}

	if err := l.store.AppendInteraction(ctx, it); err != nil {
		return eris.Wrap(err, "preference: append interaction")
	}

	if l.orgDisabled(it.OrgID) {
		return nil
	}

	sigs := signalsOf(it)
	if len(sigs) == 0 {
		return nil
	}

	mu := l.lockOrg(it.OrgID)
	mu.Lock()
	defer mu.Unlock()

	for _, s := range sigs {
		if err := l.derive(ctx, it.OrgID, s.kind, s.key); err != nil {
			return err
		}
	}
	return nil
}

// derive recomputes one (kind, key) preference from the org's interaction
// history and stores the result.
func (l *Learner) derive(ctx context.Context, orgID string, kind model.PreferenceKind, key string) error {
	history, err := l.store.RecentInteractions(ctx, orgID, 200)
	if err != nil {
		return eris.Wrap(err, "preference: load interactions")
	}

	// Collect matching signals, newest first.
	var values []string
	var latest time.Time
	for _, it := range history {
		for _, s := range signalsOf(it) {
			if s.kind != kind || s.key != key {
				continue
			}
			values = append(values, s.value)
			if it.At.After(latest) {
				latest = it.At
			}
		}
	}
	if len(values) < l.cfg.MinSamples {
		return nil
	}

	pref := model.LearnedPreference{
		OrgID:         orgID,
		Kind:          kind,
		Key:           key,
		SampleSize:    len(values),
		LastConfirmed: latest,
	}

	// A uniform run of recent contradicting signals replaces the stored
	// value outright, without waiting for the old samples to age out.
	if v, ok := uniformPrefix(values, l.cfg.ReversalWindow); ok {
		pref.Value = v
		pref.Confidence = 1
	} else {
		value, fraction := dominantValue(values)
		pref.Value = value
		pref.Confidence = fraction
		pref.Mixed = fraction < consistencyThreshold
	}

	if err := l.store.PutPreference(ctx, pref); err != nil {
		return eris.Wrap(err, "preference: store preference")
	}

	zap.L().Debug("preference: derived",
		zap.String("org_id", orgID),
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.String("value", pref.Value),
		zap.Float64("confidence", pref.Confidence),
		zap.Bool("mixed", pref.Mixed),
	)
	return nil
}

// Active returns the org's preferences with decay applied, dropping mixed
// and low-confidence entries. Opted-out orgs get none.
func (l *Learner) Active(ctx context.Context, orgID string) ([]model.LearnedPreference, error) {
	if l.orgDisabled(orgID) {
		return nil, nil
	}
	prefs, err := l.store.Preferences(ctx, orgID)
	if err != nil {
		return nil, eris.Wrap(err, "preference: load preferences")
	}

	now := l.now()
	out := prefs[:0]
	for _, p := range prefs {
		p.Confidence = DecayConfidence(p, now, l.cfg)
		if p.Mixed || p.Confidence < minActiveConfidence {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// WeightsFor applies the org's factor-weight preferences to the base weight
// vector and renormalizes. Without applicable preferences the base vector is
// returned unchanged.
func (l *Learner) WeightsFor(ctx context.Context, orgID string, base scoring.Weights) (scoring.Weights, error) {
	prefs, err := l.Active(ctx, orgID)
	if err != nil {
		return nil, err
	}

	adjusted := scoring.Weights{}
	for k, v := range base {
		adjusted[k] = v
	}
	touched := false
	for _, p := range prefs {
		if p.Kind != model.PrefFactorWeight {
			continue
		}
		w, ok := adjusted[p.Key]
		if !ok {
			continue
		}
		switch p.Value {
		case "up":
			adjusted[p.Key] = w * (1 + weightNudge*p.Confidence)
			touched = true
		case "down":
			adjusted[p.Key] = w * (1 - weightNudge*p.Confidence)
			touched = true
		}
	}
	if !touched {
		return base, nil
	}
	return adjusted.Normalize(), nil
}

// DecayConfidence returns the preference's confidence after exponential
// decay: one DecayFactor multiplication per full unconfirmed decay window.
// Pure so it can run at read time without touching stored rows.
func DecayConfidence(p model.LearnedPreference, now time.Time, cfg config.PreferenceConfig) float64 {
	if cfg.DecayDays <= 0 || p.LastConfirmed.IsZero() {
		return p.Confidence
	}
	window := time.Duration(cfg.DecayDays) * 24 * time.Hour
	elapsed := now.Sub(p.LastConfirmed)
	if elapsed < window {
		return p.Confidence
	}
	periods := math.Floor(float64(elapsed) / float64(window))
	return p.Confidence * math.Pow(cfg.DecayFactor, periods)
}

// prefSignal is one preference-bearing observation extracted from an
// interaction.
type prefSignal struct {
	kind  model.PreferenceKind
	key   string
	value string
}

// signalsOf extracts the preference signals an interaction carries. One
// interaction can carry several, a dismissal with a reason speaks to both
// the LP type and the factor the reason names.
func signalsOf(it model.Interaction) []prefSignal {
	var sigs []prefSignal
	switch it.Action {
	case model.ActionShortlist:
		if it.LPType != "" {
			sigs = append(sigs, prefSignal{model.PrefLPTypeAffinity, string(it.LPType), "positive"})
		}
	case model.ActionDismiss:
		if it.LPType != "" {
			sigs = append(sigs, prefSignal{model.PrefLPTypeAffinity, string(it.LPType), "negative"})
		}
		if factor, ok := dismissReasonFactor(it.Reason); ok {
			sigs = append(sigs, prefSignal{model.PrefFactorWeight, factor, "up"})
		}
	case model.ActionEdit, model.ActionFeedback:
		if v, ok := payloadString(it.Payload, "tone"); ok {
			sigs = append(sigs, prefSignal{model.PrefTone, "tone", v})
		}
		if v, ok := payloadString(it.Payload, "detail_level"); ok {
			sigs = append(sigs, prefSignal{model.PrefDetailLevel, "detail_level", v})
		}
		factor, fok := payloadString(it.Payload, "factor")
		dir, dok := payloadString(it.Payload, "direction")
		if fok && dok {
			sigs = append(sigs, prefSignal{model.PrefFactorWeight, factor, dir})
		}
	}
	return sigs
}

// dismissReasonFactor maps a free-text dismiss reason onto the scoring
// factor it implicates. A GP who keeps dismissing matches over one factor
// weighs that factor more heavily than the base vector does.
func dismissReasonFactor(reason string) (string, bool) {
	r := strings.ToLower(reason)
	switch {
	case r == "":
		return "", false
	case strings.Contains(r, "check size"), strings.Contains(r, "ticket"),
		strings.Contains(r, "too small"), strings.Contains(r, "too large"):
		return model.FactorSizeFit, true
	case strings.Contains(r, "strategy"), strings.Contains(r, "sector"),
		strings.Contains(r, "stage"):
		return model.FactorStrategy, true
	case strings.Contains(r, "esg"):
		return model.FactorESG, true
	default:
		return "", false
	}
}

func payloadString(payload map[string]any, key string) (string, bool) {
	if payload == nil {
		return "", false
	}
	v, ok := payload[key].(string)
	return v, ok && v != ""
}

// uniformPrefix reports whether the first n values are present and all
// equal, returning that value.
func uniformPrefix(values []string, n int) (string, bool) {
	if n <= 0 || len(values) < n {
		return "", false
	}
	for i := 1; i < n; i++ {
		if values[i] != values[0] {
			return "", false
		}
	}
	return values[0], true
}

// dominantValue returns the most frequent value and its fraction of the
// total. Ties break toward the most recent occurrence.
func dominantValue(values []string) (string, float64) {
	counts := make(map[string]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := "", 0
	for _, v := range values {
		if counts[v] > bestCount {
			best, bestCount = v, counts[v]
		}
	}
	return best, float64(bestCount) / float64(len(values))
}
