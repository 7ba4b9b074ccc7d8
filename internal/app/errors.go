package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyChild        = errors.New("block is already a child")
	ErrCrossOrganisation   = errors.New("blocks belong to different organisations")
	ErrTypeNotAllowed      = errors.New("block type not allowed under parent")
	ErrMaxChildrenReached  = errors.New("parent has reached its maximum children")
	ErrChildNotFound       = errors.New("child not found under parent")
	ErrCycleDetected       = errors.New("move would create a cycle")
	ErrDuplicateNotAllowed = errors.New("duplicate reference not allowed")
	ErrInvalidItemType     = errors.New("invalid reference item type")
	ErrMultipleRowsAtPath  = errors.New("multiple reference rows at path")
	ErrArchivedBlockType   = errors.New("block type is archived")
	ErrSchemaValidation    = errors.New("schema validation failed")
	ErrVersionConflict     = errors.New("layout version conflict")
	ErrDuplicateResolver   = errors.New("duplicate entity resolver")
)
