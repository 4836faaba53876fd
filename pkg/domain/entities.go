// Package domain contains the knowledge base record types, the rollback
// dependency order and the persistence contract shared by every backend.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TableKind names a persisted record kind. The value doubles as the storage
// table name and as the `table` field of manifest entries.
type TableKind string

const (
	// TableProjects stores Project rows.
	TableProjects TableKind = "projects"
	// TableIterations stores DesignIteration rows.
	TableIterations TableKind = "design_iterations"
	// TableSynthesis stores SynthesisResult rows.
	TableSynthesis TableKind = "synthesis_results"
	// TableRules stores Rule rows.
	TableRules TableKind = "hls_rules"
	// TableEffectiveness stores RuleEffectiveness rows.
	TableEffectiveness TableKind = "rules_effectiveness"
)

// RuleKind separates curated rules from rules harvested out of user prompts.
type RuleKind string

const (
	RuleKindOfficial   RuleKind = "official"
	RuleKindUserPrompt RuleKind = "user_prompt"
)

// Record is implemented by every entity that can appear in a manifest.
type Record interface {
	Table() TableKind
	RecordID() string
}

// Project is a named design effort of a given domain type.
type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	TargetDevice string    `json:"target_device,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReferenceMetadata describes the reference design a user supplied alongside
// an iteration.
type ReferenceMetadata struct {
	Source      string            `json:"source,omitempty" yaml:"source,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// DesignIteration is one numbered attempt within a project.
type DesignIteration struct {
	ID                  string             `json:"id"`
	ProjectID           string             `json:"project_id"`
	Number              int                `json:"iteration_number"`
	ApproachDescription string             `json:"approach_description"`
	CodeSnapshot        string             `json:"code_snapshot,omitempty"`
	CodeHash            string             `json:"code_hash,omitempty"`
	PragmasUsed         []string           `json:"pragmas_used,omitempty"`
	PromptUsed          string             `json:"prompt_used,omitempty"`
	Reasoning           string             `json:"reasoning,omitempty"`
	UserReferenceCode   string             `json:"user_reference_code,omitempty"`
	UserSpecification   string             `json:"user_specification,omitempty"`
	ReferenceMetadata   *ReferenceMetadata `json:"reference_metadata,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
}

// ResourceUsage maps a resource class (lut, ff, dsp, bram) to its count.
type ResourceUsage map[string]int

// SynthesisResult holds the measured outcome of synthesizing one iteration.
type SynthesisResult struct {
	ID            string        `json:"id"`
	IterationID   string        `json:"iteration_id"`
	IIAchieved    int           `json:"ii_achieved"`
	IITarget      int           `json:"ii_target"`
	LatencyCycles *int          `json:"latency_cycles,omitempty"`
	TimingMet     *bool         `json:"timing_met,omitempty"`
	ResourceUsage ResourceUsage `json:"resource_usage,omitempty"`
	ClockPeriodNS *float64      `json:"clock_period_ns,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Rule is a design rule. Code is optional but unique and immutable once set.
type Rule struct {
	ID          string    `json:"id"`
	Code        string    `json:"rule_code,omitempty"`
	Text        string    `json:"rule_text"`
	Kind        RuleKind  `json:"rule_type"`
	Category    string    `json:"category,omitempty"`
	Priority    int       `json:"priority"`
	Source      string    `json:"source,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleEffectiveness aggregates outcomes of one rule within one context.
type RuleEffectiveness struct {
	ID             string    `json:"id"`
	RuleID         string    `json:"rule_id"`
	Context        string    `json:"project_type"`
	TimesApplied   int       `json:"times_applied"`
	SuccessCount   int       `json:"success_count"`
	AvgImprovement float64   `json:"avg_improvement"`
	LastAppliedAt  time.Time `json:"last_applied_at"`
}

// SuccessRate returns SuccessCount/TimesApplied, zero when never applied.
func (e RuleEffectiveness) SuccessRate() float64 {
	if e.TimesApplied == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(e.TimesApplied)
}

func (Project) Table() TableKind           { return TableProjects }
func (DesignIteration) Table() TableKind   { return TableIterations }
func (SynthesisResult) Table() TableKind   { return TableSynthesis }
func (Rule) Table() TableKind              { return TableRules }
func (RuleEffectiveness) Table() TableKind { return TableEffectiveness }

func (p Project) RecordID() string           { return p.ID }
func (i DesignIteration) RecordID() string   { return i.ID }
func (s SynthesisResult) RecordID() string   { return s.ID }
func (r Rule) RecordID() string              { return r.ID }
func (e RuleEffectiveness) RecordID() string { return e.ID }

// CodeHash returns the hex sha256 digest stored alongside a code snapshot.
func CodeHash(snapshot string) string {
	if snapshot == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(snapshot))
	return hex.EncodeToString(sum[:])
}

// CheckRuleCodeChange rejects mutations that rewrite an assigned rule code.
func CheckRuleCodeChange(before, after Rule) error {
	if before.Code != "" && after.Code != before.Code {
		return ErrRuleCodeImmutable
	}
	return nil
}
