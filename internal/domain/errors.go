package domain

import "errors"

// Kind classifies errors so the transport layer can pick a status code
// without inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindCredentialMissing
	KindValidationExhausted
	KindUnknownModel
	KindInvalidContact
	KindUnsupportedFileType
	KindFileTooLarge
	KindCollaboratorUnavailable
	KindMalformedArchive
	KindInvalidInput
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindCredentialMissing:
		return "credential_missing"
	case KindValidationExhausted:
		return "response_validation_exhausted"
	case KindUnknownModel:
		return "unknown_model"
	case KindInvalidContact:
		return "invalid_contact"
	case KindUnsupportedFileType:
		return "unsupported_file_type"
	case KindFileTooLarge:
		return "file_too_large"
	case KindCollaboratorUnavailable:
		return "collaborator_unavailable"
	case KindMalformedArchive:
		return "malformed_archive"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the single error type carrying a user-facing message.
// Err holds the underlying cause, which is never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrCredentialMissing) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError builds an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError builds an error of the given kind around a cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrCredentialMissing = NewError(KindCredentialMissing,
		"Your current session doesn't have an API key, please add an API key before proceeding.")
	ErrValidationExhausted = NewError(KindValidationExhausted,
		"The agent response could not be validated, please try again.")
	ErrUnknownModel = NewError(KindUnknownModel,
		"Wrong model name received, try again with a valid model.")
	ErrInvalidContact = NewError(KindInvalidContact,
		"Invalid email received, please check the address and try again.")
	ErrCollaboratorUnavailable = NewError(KindCollaboratorUnavailable,
		"The service is temporarily unavailable, please try again in a few moments.")
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Unavailable wraps a collaborator failure. The cause is kept for logs only.
func Unavailable(err error) *Error {
	return WrapError(KindCollaboratorUnavailable, ErrCollaboratorUnavailable.Message, err)
}
