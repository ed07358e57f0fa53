package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/pitlane-hq/pitlane-backend/api/middleware"
	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
)

func requesterID(r *http.Request) (uuid.UUID, error) {
	id, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return id, nil
}
