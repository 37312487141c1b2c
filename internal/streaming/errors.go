package streaming

import "errors"

// Typed error discriminators for the streaming manager's public operations.
// These are the only failures subscribe/updatePose/unsubscribe can return;
// infrastructure failures (storage, generator) are handled internally by
// logging and skipping the affected chunk or zone, never propagated here.
var (
	ErrInvalidSubscriptionRequest = errors.New("InvalidSubscriptionRequest")
	ErrSubscriptionNotFound       = errors.New("SubscriptionNotFound")
	ErrOwnershipViolation         = errors.New("OwnershipViolation")
	ErrInvalidPose                = errors.New("InvalidPose")
)
