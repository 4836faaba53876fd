package ruleimport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hlskb/internal/core"
	"hlskb/internal/manifest"
	"hlskb/pkg/domain"
)

// Mode decides what happens to rules that already exist.
type Mode string

const (
	// ModeUpsert refreshes existing rules in place.
	ModeUpsert Mode = "upsert"
	// ModeSkip leaves existing rules untouched.
	ModeSkip Mode = "skip"
	// ModeReplace deletes every rule of the profile's kind, and its
	// effectiveness rows, before inserting.
	ModeReplace Mode = "replace"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeUpsert, ModeSkip, ModeReplace:
		return m, nil
	case "":
		return ModeUpsert, nil
	}
	return "", fmt.Errorf("unknown import mode %q (want upsert, skip or replace)", s)
}

// Summary counts what an import did.
type Summary struct {
	Inserted int
	Updated  int
	Skipped  int
	Removed  int
	// Conflicts lists rules matched by text whose stored code differs.
	Conflicts []Rule
	// Entries lists inserted rules for a manifest.
	Entries []manifest.Entry
}

// Manifest wraps the inserted rules in a pending manifest.
func (s Summary) Manifest(label, operator string, at time.Time) manifest.Manifest {
	m := manifest.New(label, "rules", operator, nil, at)
	m.Entries = append(m.Entries, s.Entries...)
	return m
}

// Importer ingests parsed rules.
type Importer struct {
	store  domain.EntityStore
	logger core.Logger
}

// NewImporter returns an Importer over store. logger may be nil.
func NewImporter(store domain.EntityStore, logger core.Logger) *Importer {
	return &Importer{store: store, logger: logger}
}

// Import writes rules of the profile's kind in one transaction. Existing
// rules are found by code, then by text.
func (im *Importer) Import(ctx context.Context, rules []Rule, p Profile, mode Mode) (Summary, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return Summary{}, err
	}
	var sum Summary
	err := im.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sum = Summary{}
		if mode == ModeReplace {
			n, err := removeKind(tx, p.Kind)
			if err != nil {
				return err
			}
			sum.Removed = n
		}
		for _, r := range rules {
			if err := im.importOne(tx, r, p, mode, &sum); err != nil {
				return fmt.Errorf("line %d: %w", r.Line, err)
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	if im.logger != nil {
		for _, c := range sum.Conflicts {
			im.logger.Warn("rule text already stored under another code", "code", c.Code, "line", c.Line)
		}
		im.logger.Info("rules imported", "profile", p.Name, "mode", string(mode),
			"inserted", sum.Inserted, "updated", sum.Updated, "skipped", sum.Skipped, "removed", sum.Removed)
	}
	return sum, nil
}

func (im *Importer) importOne(tx domain.Transaction, r Rule, p Profile, mode Mode, sum *Summary) error {
	existing, found, err := lookup(tx, r)
	if err != nil {
		return err
	}
	if !found {
		created, err := tx.CreateRule(domain.Rule{
			Code:        r.Code,
			Text:        r.Text,
			Kind:        p.Kind,
			Category:    r.Category,
			Priority:    r.Priority,
			Source:      r.Source,
			Description: r.Description,
		})
		if err != nil {
			return err
		}
		sum.Inserted++
		note := "Rule: " + created.Code
		if created.Code == "" {
			note = "Rule: " + manifest.Truncate(created.Text, 50)
		}
		sum.Entries = append(sum.Entries, manifest.Entry{Table: domain.TableRules, ID: created.ID, Note: note})
		return nil
	}
	if mode == ModeSkip {
		sum.Skipped++
		return nil
	}
	if existing.Code != "" && r.Code != "" && existing.Code != r.Code {
		sum.Conflicts = append(sum.Conflicts, r)
		sum.Skipped++
		return nil
	}
	_, err = tx.UpdateRule(existing.ID, func(cur *domain.Rule) error {
		if cur.Code == "" {
			cur.Code = r.Code
		}
		cur.Text = r.Text
		cur.Category = r.Category
		cur.Priority = r.Priority
		cur.Source = r.Source
		cur.Description = r.Description
		return nil
	})
	if errors.Is(err, domain.ErrRuleCodeImmutable) {
		sum.Conflicts = append(sum.Conflicts, r)
		sum.Skipped++
		return nil
	}
	if err != nil {
		return err
	}
	sum.Updated++
	return nil
}

func lookup(v domain.View, r Rule) (domain.Rule, bool, error) {
	if r.Code != "" {
		rule, err := v.FindRuleByCode(r.Code)
		if err == nil {
			return rule, true, nil
		}
		if !domain.IsNotFound(err) {
			return domain.Rule{}, false, err
		}
	}
	rule, err := v.FindRuleByText(r.Text)
	if err == nil {
		return rule, true, nil
	}
	if !domain.IsNotFound(err) {
		return domain.Rule{}, false, err
	}
	return domain.Rule{}, false, nil
}

func removeKind(tx domain.Transaction, kind domain.RuleKind) (int, error) {
	rules, err := tx.ListRules()
	if err != nil {
		return 0, err
	}
	doomed := make(map[string]bool)
	for _, r := range rules {
		if r.Kind == kind {
			doomed[r.ID] = true
		}
	}
	stats, err := tx.ListEffectiveness("")
	if err != nil {
		return 0, err
	}
	for _, e := range stats {
		if doomed[e.RuleID] {
			if err := tx.Delete(domain.TableEffectiveness, e.ID); err != nil {
				return 0, err
			}
		}
	}
	for _, r := range rules {
		if doomed[r.ID] {
			if err := tx.Delete(domain.TableRules, r.ID); err != nil {
				return 0, err
			}
		}
	}
	return len(doomed), nil
}
