package chat

import (
	"errors"
	"fmt"
)

var (
	ErrValidation  = errors.New("chat: validation failed")
	ErrNotFound    = errors.New("chat: not found")
	ErrConsistency = errors.New("chat: consistency violation")
	ErrUpstream    = errors.New("chat: upstream failure")

	// ErrDuplicateMembers is returned by Repository.Insert when a live
	// conversation already exists for the member set.
	ErrDuplicateMembers = fmt.Errorf("%w: live conversation exists for member set", ErrConsistency)
)
