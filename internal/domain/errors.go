package domain

import "errors"

var (
	ErrInvalidID          = errors.New("invalid id")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidTypeKey     = errors.New("invalid block type key")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrInvalidStrictness  = errors.New("invalid strictness")
	ErrInvalidFetchPolicy = errors.New("invalid fetch policy")
	ErrInvalidNestingRule = errors.New("invalid nesting rule")
	ErrPayloadKindChanged = errors.New("payload kind cannot change")
)
