package webhook

import "errors"

var (
	// ErrVerification rejects a notification whose origin, signature, shape,
	// or payment ownership could not be confirmed. The processor must not
	// retry these.
	ErrVerification = errors.New("webhook verification failed")

	// ErrRetryable marks a transient condition, such as the processor being
	// unreachable or its status lagging the event. The processor should
	// redeliver later.
	ErrRetryable = errors.New("webhook processing retryable")
)
