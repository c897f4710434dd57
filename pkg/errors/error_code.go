package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidBar           ErrorCode = 102
	ErrCodeInvalidOrder         ErrorCode = 103
	ErrCodeInvalidPeriod        ErrorCode = 104
	ErrCodeInvalidLadder        ErrorCode = 105

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound     ErrorCode = 200
	ErrCodeInsufficientData ErrorCode = 201

	// Transient I/O errors (300-399). Everything in this band is
	// considered retryable by IsTransient.
	ErrCodeBrokerUnavailable ErrorCode = 300
	ErrCodeMarketDataFailed  ErrorCode = 301
	ErrCodeClockFailed       ErrorCode = 302

	// Trading errors (400-499)
	ErrCodeOrderFailed    ErrorCode = 400
	ErrCodeOrderNotFound  ErrorCode = 401
	ErrCodeCancelFailed   ErrorCode = 402
	ErrCodeReplaceFailed  ErrorCode = 403
	ErrCodePositionFailed ErrorCode = 404

	// Messaging errors (500-599)
	ErrCodePublishFailed ErrorCode = 500
	ErrCodeDecodeFailed  ErrorCode = 501

	// Storage errors (600-699)
	ErrCodeStorageFailed ErrorCode = 600
)
