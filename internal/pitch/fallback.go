package pitch

import (
	"bytes"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

// Fallback section templates render from profile fields only. No generated
// claims, so nothing to fact-check; the output is a safe starting point for
// a human, never a finished pitch.
var fallbackTemplates = map[model.ArtifactType]map[string]string{
	model.ArtifactEmail: {
		"hook":       "Dear {{.Salutation}}, I am reaching out on behalf of {{.Fund.Name}} regarding a potential fit with {{.LP.Name}}'s program.",
		"value_prop": "{{.Fund.Name}} invests in {{.FundFocus}}.{{if .Fund.Thesis}} Our thesis: {{.Fund.Thesis}}{{end}}",
		"ask":        "We would welcome a brief call to explore whether {{.Fund.Name}} fits {{.LP.Name}}'s mandate.",
	},
	model.ArtifactSummary: {
		"intro":        "{{.Fund.Name}} is raising its next vehicle focused on {{.FundFocus}}.",
		"alignment":    "{{.LP.Name}}{{if .LP.Mandate}} has a stated mandate of {{.LP.Mandate}}{{end}}.",
		"track_record": "Track record details available on request.",
		"team":         "Team background available on request.",
		"why_now":      "Timing and market context available on request.",
	},
	model.ArtifactCoverLetter: {
		"intro":     "Dear {{.Salutation}}, please find enclosed materials for {{.Fund.Name}}.",
		"alignment": "We believe {{.Fund.Name}}'s focus on {{.FundFocus}} aligns with {{.LP.Name}}'s program.",
		"ask":       "We would appreciate the opportunity to discuss further.",
	},
}

type fallbackData struct {
	Fund       *model.FundProfile
	LP         *model.LPProfile
	FundFocus  string
	Salutation string
}

// FallbackDraft renders the deterministic template for an artifact type.
// Used when generation cannot produce a deliverable draft.
func FallbackDraft(matchID string, typ model.ArtifactType, fund *model.FundProfile, lp *model.LPProfile, now time.Time) *model.PitchDraft {
	data := fallbackData{
		Fund:       fund,
		LP:         lp,
		FundFocus:  joinOr(fund.Tags(), "its target strategy"),
		Salutation: lp.Name + " team",
	}
	if lp.Contact != nil && lp.Contact.Name != "" {
		data.Salutation = lp.Contact.Name
	}

	sections := make(map[string]string, len(fallbackTemplates[typ]))
	for name, tmpl := range fallbackTemplates[typ] {
		sections[name] = renderTemplate(name, tmpl, data)
	}

	return &model.PitchDraft{
		ID:          uuid.NewString(),
		MatchID:     matchID,
		Type:        typ,
		Sections:    sections,
		Tone:        ExpectedTone(lp.Type, ""),
		LimitedData: true,
		CreatedAt:   now,
	}
}

func renderTemplate(name, tmpl string, data fallbackData) string {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

func joinOr(parts []string, fallback string) string {
	if len(parts) == 0 {
		return fallback
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out
}
