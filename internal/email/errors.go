package email

// PermanentError indicates a send failure that cannot succeed on retry.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string { return "email error: " + e.Message }

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary send failure.
type RetryableError struct {
	Message string
}

func (e *RetryableError) Error() string { return "email error: " + e.Message }

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
