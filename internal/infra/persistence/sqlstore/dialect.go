package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name string
	// NumberedParams rewrites `?` placeholders to `$1, $2, ...`.
	NumberedParams bool
	// Retryable reports transient errors worth re-running a transaction for.
	Retryable func(error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedParams || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) retryable(err error) bool {
	return d.Retryable != nil && d.Retryable(err)
}
