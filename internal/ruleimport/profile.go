package ruleimport

import (
	"strings"

	"hlskb/pkg/domain"
)

type keywordCategory struct {
	keyword  string
	category string
}

type priorityTier struct {
	priority int
	words    []string
}

// Profile describes one rule file dialect.
type Profile struct {
	Name string
	Kind domain.RuleKind
	// RequireCode drops list items without a [CODE] prefix.
	RequireCode     bool
	DefaultPriority int
	section         func(heading string) (category string, ok bool)
	source          func(heading string) string
	keywords        []keywordCategory
	tiers           []priorityTier
}

var officialSections = map[string]string{
	"dataflow":             "dataflow",
	"pipeline":             "pipeline",
	"hierarchical design":  "hierarchical",
	"data types":           "data_types",
	"structural design":    "structural",
	"control i/o handling": "interface",
}

var sharedKeywords = []keywordCategory{
	{"pipeline", "pipeline"},
	{"dataflow", "dataflow"},
	{"stream", "dataflow"},
	{"fifo", "dataflow"},
	{"array_partition", "memory"},
	{"partition", "memory"},
	{"memory", "memory"},
	{"bram", "memory"},
	{"unroll", "optimization"},
	{"inline", "optimization"},
	{"flatten", "optimization"},
	{"merge", "optimization"},
	{"interface", "interface"},
	{"axis", "interface"},
	{"m_axi", "interface"},
	{"s_axilite", "interface"},
}

func withKeywords(extra ...keywordCategory) []keywordCategory {
	out := make([]keywordCategory, 0, len(sharedKeywords)+len(extra))
	out = append(out, sharedKeywords...)
	return append(out, extra...)
}

// Official reads the vendor design-guide rule list (UG1399).
var Official = Profile{
	Name:            "official",
	Kind:            domain.RuleKindOfficial,
	DefaultPriority: 5,
	section: func(heading string) (string, bool) {
		if c, ok := officialSections[heading]; ok {
			return c, true
		}
		return "general", true
	},
	source: func(string) string { return "UG1399" },
	keywords: withKeywords(
		keywordCategory{"ap_ctrl", "interface"},
		keywordCategory{"resource", "resource"},
		keywordCategory{"dsp", "resource"},
		keywordCategory{"lut", "resource"},
		keywordCategory{"dependence", "analysis"},
	),
	tiers: []priorityTier{
		{9, []string{"always", "must", "critical", "never"}},
		{7, []string{"do not", "avoid", "ensure"}},
		{7, []string{"should", "recommend", "prefer"}},
		{4, []string{"consider", "may", "optional"}},
	},
}

// UserPrompts reads prompts harvested from design sessions. Every item
// carries a [P###] code.
var UserPrompts = Profile{
	Name:            "user_prompt",
	Kind:            domain.RuleKindUserPrompt,
	RequireCode:     true,
	DefaultPriority: 6,
	section: func(heading string) (string, bool) {
		switch {
		case strings.HasPrefix(heading, "user prompts"):
			return "", false
		case strings.Contains(heading, "fir"), strings.Contains(heading, "cordic"):
			return "algorithm", true
		case strings.Contains(heading, "loop"):
			return "optimization", true
		case strings.Contains(heading, "memory"):
			return "memory", true
		case strings.Contains(heading, "interface"):
			return "interface", true
		}
		return "general", true
	},
	source: func(heading string) string {
		switch {
		case strings.Contains(heading, "fir"):
			return "FIR optimization experience"
		case strings.Contains(heading, "cordic"):
			return "CORDIC optimization experience"
		}
		return "user_experience"
	},
	keywords: withKeywords(
		keywordCategory{"loop", "optimization"},
		keywordCategory{"cordic", "algorithm"},
		keywordCategory{"fir", "algorithm"},
	),
	tiers: []priorityTier{
		{8, []string{"always", "must", "critical"}},
		{6, []string{"should", "recommend", "consider"}},
		{5, []string{"may", "optional", "can"}},
	},
}

// ProfileByName maps "official" and "user_prompt" to their profiles.
func ProfileByName(name string) (Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Official.Name, "ug1399":
		return Official, true
	case UserPrompts.Name, "user_prompts", "prompts":
		return UserPrompts, true
	}
	return Profile{}, false
}

func (p Profile) category(sectionCategory, lowered string) string {
	for _, kc := range p.keywords {
		if strings.Contains(lowered, kc.keyword) {
			return kc.category
		}
	}
	return sectionCategory
}

func (p Profile) priority(lowered string) int {
	for _, tier := range p.tiers {
		for _, w := range tier.words {
			if strings.Contains(lowered, w) {
				return tier.priority
			}
		}
	}
	return p.DefaultPriority
}
