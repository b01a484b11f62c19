package models

import "github.com/google/uuid"

// Identity is an authenticated principal issued by the hosted auth provider.
// This service never creates or destroys identities, it only observes them.
type Identity struct {
	ID    uuid.UUID
	Email string
}
