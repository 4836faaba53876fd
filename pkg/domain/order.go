package domain

// RollbackOrder lists every rollback-able kind, children before parents.
// Deleting in this order never leaves a dangling reference:
// synthesis results reference iterations, effectiveness rows reference rules,
// iterations reference projects. Rules are independent of projects and sit
// between the two chains.
var RollbackOrder = []TableKind{
	TableSynthesis,
	TableEffectiveness,
	TableIterations,
	TableRules,
	TableProjects,
}

// Known reports whether kind appears in RollbackOrder.
func (k TableKind) Known() bool {
	for _, known := range RollbackOrder {
		if known == k {
			return true
		}
	}
	return false
}

// OrderTables returns the distinct kinds of tables sorted by RollbackOrder.
// Any kind absent from the order table fails with UnknownDependencyError
// listing every offender in first-seen order.
func OrderTables(tables []TableKind) ([]TableKind, error) {
	present := make(map[TableKind]bool, len(tables))
	var unknown []TableKind
	for _, t := range tables {
		if present[t] {
			continue
		}
		present[t] = true
		if !t.Known() {
			unknown = append(unknown, t)
		}
	}
	if len(unknown) > 0 {
		return nil, UnknownDependencyError{Tables: unknown}
	}
	ordered := make([]TableKind, 0, len(present))
	for _, t := range RollbackOrder {
		if present[t] {
			ordered = append(ordered, t)
		}
	}
	return ordered, nil
}
