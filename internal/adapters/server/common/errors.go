package common

import (
	"errors"
	"net/http"

	"github.com/hylla/blockenv/internal/app"
	"github.com/hylla/blockenv/internal/domain"
)

// ErrorClass is the transport classification of one application error.
type ErrorClass struct {
	Status int
	Code   string
}

// unprocessable lists rule violations reported as 422.
var unprocessable = []error{
	app.ErrAlreadyChild,
	app.ErrTypeNotAllowed,
	app.ErrMaxChildrenReached,
	app.ErrChildNotFound,
	app.ErrCycleDetected,
	app.ErrDuplicateNotAllowed,
	app.ErrInvalidItemType,
	app.ErrMultipleRowsAtPath,
	app.ErrArchivedBlockType,
	app.ErrSchemaValidation,
	domain.ErrPayloadKindChanged,
	domain.ErrInvalidPayload,
	domain.ErrInvalidOperation,
	domain.ErrInvalidTypeKey,
	domain.ErrInvalidName,
	domain.ErrInvalidFetchPolicy,
}

// ClassifyError maps application errors to an HTTP status and stable code.
func ClassifyError(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorClass{Status: http.StatusInternalServerError, Code: "internal_error"}
	case errors.Is(err, app.ErrNotFound):
		return ErrorClass{Status: http.StatusNotFound, Code: "not_found"}
	case errors.Is(err, app.ErrForbidden), errors.Is(err, app.ErrCrossOrganisation):
		return ErrorClass{Status: http.StatusForbidden, Code: "forbidden"}
	case errors.Is(err, app.ErrVersionConflict):
		return ErrorClass{Status: http.StatusConflict, Code: "version_conflict"}
	case errors.Is(err, app.ErrInvalidRequest):
		return ErrorClass{Status: http.StatusBadRequest, Code: "invalid_request"}
	}
	for _, target := range unprocessable {
		if errors.Is(err, target) {
			return ErrorClass{Status: http.StatusUnprocessableEntity, Code: "unprocessable"}
		}
	}
	return ErrorClass{Status: http.StatusInternalServerError, Code: "internal_error"}
}
