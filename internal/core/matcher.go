package core

import (
	"context"

	"hlskb/pkg/domain"
)

// RuleMatcher resolves a rule application to a stored rule by code, then by
// case-insensitive full-text equality. It never guesses: no hit means the
// application is not recorded.
type RuleMatcher struct {
	store domain.EntityStore
	opts  options
}

// NewRuleMatcher builds a matcher over store.
func NewRuleMatcher(store domain.EntityStore, opts ...Option) *RuleMatcher {
	return &RuleMatcher{store: store, opts: buildOptions(opts)}
}

// Match looks the rule up in a fresh read view. Keywords are accepted for
// call-site compatibility and ignored.
func (m *RuleMatcher) Match(ctx context.Context, code, text string, keywords ...string) (domain.Rule, bool, error) {
	var (
		rule domain.Rule
		ok   bool
	)
	err := m.store.View(ctx, func(v domain.View) error {
		var err error
		rule, ok, err = m.MatchView(v, code, text, keywords...)
		return err
	})
	return rule, ok, err
}

// MatchView is Match inside an existing view or transaction.
func (m *RuleMatcher) MatchView(v domain.View, code, text string, keywords ...string) (domain.Rule, bool, error) {
	if len(keywords) > 0 {
		m.opts.logger.Debug("rule keywords ignored by precise matcher", "code", code, "keywords", keywords)
	}
	if code != "" {
		rule, err := v.FindRuleByCode(code)
		if err == nil {
			return rule, true, nil
		}
		if !domain.IsNotFound(err) {
			return domain.Rule{}, false, err
		}
	}
	if text != "" {
		rule, err := v.FindRuleByText(text)
		if err == nil {
			return rule, true, nil
		}
		if !domain.IsNotFound(err) {
			return domain.Rule{}, false, err
		}
	}
	m.opts.logger.Debug("no rule matched", "code", code, "text", text)
	return domain.Rule{}, false, nil
}
