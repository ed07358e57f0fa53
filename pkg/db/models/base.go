package models

import "github.com/google/uuid"

// ensureID fills a zero primary key so inserts do not depend on the
// database default (sqlite has no gen_random_uuid).
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
