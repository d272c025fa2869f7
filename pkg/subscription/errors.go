package subscription

import "errors"

var (
	ErrEmptyItemKey         = errors.New("subscription: item key must not be empty")
	ErrEmptySchema          = errors.New("subscription: field schema must not be empty")
	ErrInvalidMode          = errors.New("subscription: invalid mode")
	ErrNotFound             = errors.New("subscription: no subscription with this local ID")
	ErrInvalidServerID      = errors.New("subscription: server ID must be positive")
	ErrServerIDInUse        = errors.New("subscription: server ID already bound to another subscription")
	ErrTooManySubscriptions = errors.New("subscription: subscription limit reached")
)
