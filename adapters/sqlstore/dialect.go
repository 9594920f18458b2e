package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Name string
	// Schema creates the tables if they do not exist.
	Schema []string
	// numbered placeholders ($1, $2, ...) instead of ?
	numbered bool
	// isUniqueViolation reports a primary key or unique constraint failure.
	isUniqueViolation func(error) bool
}

// rebind rewrites ? placeholders for dialects using numbered ones.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
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
