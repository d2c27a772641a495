package pitch

import (
	_ "embed"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meridian-group/lpmatch-cli/internal/model"
)

//go:embed tones.yaml
var tonesYAML []byte

// toneProfile is the expected register for one LP type plus the phrase
// registers that read as off-register for that audience.
type toneProfile struct {
	Tone           string   `yaml:"tone"`
	AvoidRegisters []string `yaml:"avoid_registers"`
}

type toneTable struct {
	DefaultTone string                 `yaml:"default_tone"`
	Registers   map[string][]string    `yaml:"registers"`
	LPTypes     map[string]toneProfile `yaml:"lp_types"`
}

var tones = mustLoadTones()

func mustLoadTones() toneTable {
	var t toneTable
	if err := yaml.Unmarshal(tonesYAML, &t); err != nil {
		panic("pitch: bad tone table: " + err.Error())
	}
	return t
}

// ExpectedTone returns the register for an LP type. An explicit preference
// overrides the table.
func ExpectedTone(lpType model.LPType, preferred string) string {
	if preferred != "" {
		return preferred
	}
	if p, ok := tones.LPTypes[string(lpType)]; ok && p.Tone != "" {
		return p.Tone
	}
	return tones.DefaultTone
}

// offRegisterPhrases returns the phrases that read as tone mismatches for an
// LP type, lowercased for scanning. Phrases come from the registers the LP
// type avoids so one family serves every audience that rejects it.
func offRegisterPhrases(lpType model.LPType) []string {
	p, ok := tones.LPTypes[string(lpType)]
	if !ok {
		return nil
	}
	var out []string
	for _, reg := range p.AvoidRegisters {
		for _, s := range tones.Registers[reg] {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
