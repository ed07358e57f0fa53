package enums

import "slices"

// closedSet is the list of labels a Postgres enum type accepts.
type closedSet[T ~string] []T

func (c closedSet[T]) has(v T) bool {
	return slices.Contains(c, v)
}
