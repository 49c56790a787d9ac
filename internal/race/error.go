package race

import "fmt"

type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any DomainError with the same code, so callers can test
// against the sentinels below with errors.Is.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

const (
	ErrCodeInvalidArgument           = "INVALID_ARGUMENT"
	ErrCodeNotFound                  = "NOT_FOUND"
	ErrCodeAlreadyOnTrack            = "ALREADY_ON_TRACK"
	ErrCodeNotOnTrack                = "NOT_ON_TRACK"
	ErrCodeRerunConfirmationRequired = "RERUN_CONFIRMATION_REQUIRED"
	ErrCodeDuplicateNumber           = "DUPLICATE_NUMBER"
)

var (
	ErrInvalidArgument           = &DomainError{Code: ErrCodeInvalidArgument}
	ErrNotFound                  = &DomainError{Code: ErrCodeNotFound}
	ErrAlreadyOnTrack            = &DomainError{Code: ErrCodeAlreadyOnTrack}
	ErrNotOnTrack                = &DomainError{Code: ErrCodeNotOnTrack}
	ErrRerunConfirmationRequired = &DomainError{Code: ErrCodeRerunConfirmationRequired}
	ErrDuplicateNumber           = &DomainError{Code: ErrCodeDuplicateNumber}
)

func NewInvalidArgumentError(msg string) error {
	return &DomainError{Code: ErrCodeInvalidArgument, Message: msg}
}

func NewNotFoundError(msg string) error {
	return &DomainError{Code: ErrCodeNotFound, Message: msg}
}

func NewAlreadyOnTrackError(number string) error {
	return &DomainError{Code: ErrCodeAlreadyOnTrack, Message: fmt.Sprintf("rider %s is already on track", number)}
}

func NewNotOnTrackError(number string) error {
	return &DomainError{Code: ErrCodeNotOnTrack, Message: fmt.Sprintf("rider %s not found on track", number)}
}

func NewRerunConfirmationError(number string) error {
	return &DomainError{
		Code:    ErrCodeRerunConfirmationRequired,
		Message: fmt.Sprintf("rider %s has already finished; confirm to start a re-run", number),
	}
}
