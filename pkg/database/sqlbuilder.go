package database

import (
	"regexp"

	"github.com/huandu/go-sqlbuilder"
)

// ForUpdate appends a row lock to the select on flavors that support one.
// SQLite serializes writers at the database level and rejects the clause.
func ForUpdate(sb *sqlbuilder.SelectBuilder, flavor sqlbuilder.Flavor) *sqlbuilder.SelectBuilder {
	switch flavor {
	case sqlbuilder.PostgreSQL, sqlbuilder.MySQL:
		return sb.ForUpdate()
	default:
		return sb
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// IsIdentifier reports whether name is safe to interpolate as a table or column name.
func IsIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}
