package ruleimport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlskb/internal/config"
	"hlskb/internal/idgen"
	"hlskb/internal/persistence"
	"hlskb/pkg/domain"
)

func openStore(t *testing.T) domain.EntityStore {
	t.Helper()
	store, err := persistence.Open(context.Background(), config.Storage{Driver: "memory"},
		persistence.WithIDGenerator(idgen.Sequence("rule")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func listRules(t *testing.T, store domain.EntityStore) []domain.Rule {
	t.Helper()
	var rules []domain.Rule
	require.NoError(t, store.View(context.Background(), func(v domain.View) error {
		var err error
		rules, err = v.ListRules()
		return err
	}))
	return rules
}

func TestImportModes(t *testing.T) {
	store := openStore(t)
	rules := parseFile(t, "testdata/user_prompts.txt", UserPrompts)
	im := NewImporter(store, nil)
	ctx := context.Background()

	sum, err := im.Import(ctx, rules, UserPrompts, ModeUpsert)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Inserted)
	require.Len(t, sum.Entries, 3)
	assert.Equal(t, "Rule: P001", sum.Entries[0].Note)

	sum, err = im.Import(ctx, rules, UserPrompts, ModeSkip)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Skipped)
	assert.Empty(t, sum.Entries)

	rules[0].Text = "Merge related operations into one loop with ternaries"
	rules[0].Priority = 8
	sum, err = im.Import(ctx, rules, UserPrompts, ModeUpsert)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Updated)

	stored := listRules(t, store)
	require.Len(t, stored, 3)
	assert.Equal(t, "P001", stored[0].Code)
	assert.Equal(t, "Merge related operations into one loop with ternaries", stored[0].Text)
	assert.Equal(t, 8, stored[0].Priority)
	assert.Equal(t, domain.RuleKindUserPrompt, stored[0].Kind)
}

func TestImportReplaceOnlyTouchesItsKind(t *testing.T) {
	store := openStore(t)
	im := NewImporter(store, nil)
	ctx := context.Background()

	_, err := im.Import(ctx, parseFile(t, "testdata/ug1399_rules.txt", Official), Official, ModeUpsert)
	require.NoError(t, err)
	prompts := parseFile(t, "testdata/user_prompts.txt", UserPrompts)
	_, err = im.Import(ctx, prompts, UserPrompts, ModeUpsert)
	require.NoError(t, err)

	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		r, err := tx.FindRuleByCode("P001")
		if err != nil {
			return err
		}
		_, _, err = tx.ApplyEffectiveness(r.ID, "fir", domain.Outcome{Success: true, Improvement: 130}, domain.ModeOverwrite)
		return err
	}))

	sum, err := im.Import(ctx, prompts[:1], UserPrompts, ModeReplace)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Removed)
	assert.Equal(t, 1, sum.Inserted)

	var official, user int
	for _, r := range listRules(t, store) {
		switch r.Kind {
		case domain.RuleKindOfficial:
			official++
		case domain.RuleKindUserPrompt:
			user++
		}
	}
	assert.Equal(t, 4, official)
	assert.Equal(t, 1, user)
}

func TestImportKeepsAssignedCodes(t *testing.T) {
	store := openStore(t)
	im := NewImporter(store, nil)
	ctx := context.Background()
	rule := Rule{Code: "P001", Text: "Merge related operations into single loops", Line: 1}
	_, err := im.Import(ctx, []Rule{rule}, UserPrompts, ModeUpsert)
	require.NoError(t, err)

	rule.Code = "P900"
	sum, err := im.Import(ctx, []Rule{rule}, UserPrompts, ModeUpsert)
	require.NoError(t, err)
	require.Len(t, sum.Conflicts, 1)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, "P001", listRules(t, store)[0].Code)

	m := sum.Manifest("rules_user_prompts", "kbtool", time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, m.Entries)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeUpsert, m)
	m, err = ParseMode("Replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)
	_, err = ParseMode("merge")
	require.Error(t, err)
}
