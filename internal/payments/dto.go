package payments

import (
	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/pkg/enums"
)

type CreateSessionInput struct {
	EventID  uuid.UUID
	CarID    uuid.UUID
	DriverID uuid.UUID
	Locale   string
}

type SessionResult struct {
	URL            string    `json:"url"`
	SessionID      string    `json:"session_id"`
	RegistrationID uuid.UUID `json:"registration_id"`
}

type StatusResult struct {
	Status enums.RegistrationStatus `json:"status"`
}
