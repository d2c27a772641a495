package pitch

import (
	"fmt"
	"strings"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

const generatorSystemPrompt = `You draft fundraising outreach for a GP approaching institutional LPs.
Write only from the facts provided. Never invent track record figures, commitments, or relationships.
If a fact you would normally use is absent, list it under missing_data instead of guessing.

Respond with a single JSON object, no prose outside it:
{
  "sections": {"<section>": "<text>", ...},
  "missing_data": ["<what was absent>", ...]
}
Produce exactly the requested sections.`

const criticSystemPrompt = `You extract factual claims from fundraising outreach drafts.
A claim is any checkable assertion: a return multiple, a named exit, a prior commitment, an AUM figure.

Respond with a single JSON object, no prose outside it:
{
  "claims": [
    {"text": "<the sentence>", "kind": "moic|commitment|other", "deal": "<deal name if moic>", "value": <number if stated>}
  ]
}
Use kind "other" for claims you cannot classify. An empty list is valid.`

// buildGeneratorPrompt assembles the user prompt for one generation attempt.
// Prior critique issues are included so a regeneration is directed at what
// failed, not a blind reroll.
func buildGeneratorPrompt(req GenerateRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Artifact: %s\nTone: %s\n", req.Type, req.Tone)
	if req.DetailLevel != "" {
		fmt.Fprintf(&b, "Detail level: %s\n", req.DetailLevel)
	}
	fmt.Fprintf(&b, "Sections required, in order: %s\n\n", strings.Join(req.Type.RequiredSections(), ", "))

	b.WriteString("## Fund\n")
	fmt.Fprintf(&b, "Name: %s\n", req.Fund.Name)
	if req.Fund.Thesis != "" {
		fmt.Fprintf(&b, "Thesis: %s\n", req.Fund.Thesis)
	}
	if tags := req.Fund.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "Focus: %s\n", strings.Join(tags, ", "))
	}
	if !req.Fund.CheckSize.IsZero() {
		fmt.Fprintf(&b, "Check size: $%d-$%d\n", req.Fund.CheckSize.Min, req.Fund.CheckSize.Max)
	}
	for _, tr := range req.Fund.TrackRecord {
		fmt.Fprintf(&b, "Track record: %s (%s) %.1fx MOIC\n", tr.Deal, tr.Sector, tr.MOIC)
	}
	if req.Fund.ESG != model.ESGUnstated {
		fmt.Fprintf(&b, "ESG posture: %s\n", req.Fund.ESG)
	}

	b.WriteString("\n## LP\n")
	fmt.Fprintf(&b, "Name: %s\nType: %s\n", req.LP.Name, req.LP.Type)
	if req.LP.Mandate != "" {
		fmt.Fprintf(&b, "Mandate: %s\n", req.LP.Mandate)
	}
	if tags := req.LP.Tags(); len(tags) > 0 {
		fmt.Fprintf(&b, "Focus: %s\n", strings.Join(tags, ", "))
	}
	if !req.LP.CheckSize.IsZero() {
		fmt.Fprintf(&b, "Check size: $%d-$%d\n", req.LP.CheckSize.Min, req.LP.CheckSize.Max)
	}
	if req.LP.ESG != model.ESGUnstated {
		fmt.Fprintf(&b, "ESG posture: %s\n", req.LP.ESG)
	}
	if req.LP.Contact != nil {
		fmt.Fprintf(&b, "Contact: %s (%s)\n", req.LP.Contact.Name, req.LP.Contact.Title)
	}

	if len(req.MatchFactors) > 0 {
		b.WriteString("\n## Match rationale\n")
		for _, f := range req.MatchFactors {
			if f.Available {
				fmt.Fprintf(&b, "%s: %.0f/100\n", f.Name, f.Score)
			}
		}
	}

	if len(req.PriorIssues) > 0 {
		b.WriteString("\n## Problems with the previous draft, fix all of them\n")
		for _, is := range req.PriorIssues {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", is.Type, is.Severity, is.Description)
		}
	}

	return b.String()
}

func buildCriticPrompt(draft *model.PitchDraft) string {
	var b strings.Builder
	b.WriteString("Extract the factual claims from this draft.\n\n")
	b.WriteString(draft.Text())
	return b.String()
}
