package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that decide on retries or messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindValidation
	KindEmbeddingUnavailable
	KindEmbeddingTimeout
	KindStoreUnavailable
	KindCollectionNotFound
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigError"
	case KindValidation:
		return "ValidationError"
	case KindEmbeddingUnavailable:
		return "EmbeddingUnavailable"
	case KindEmbeddingTimeout:
		return "EmbeddingTimeout"
	case KindStoreUnavailable:
		return "StoreUnavailable"
	case KindCollectionNotFound:
		return "CollectionNotFound"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the error type shared by every layer.
type Error struct {
	Kind  Kind
	Field string // offending field for config and validation errors
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrConfig               = &Error{Kind: KindConfig}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrEmbeddingUnavailable = &Error{Kind: KindEmbeddingUnavailable}
	ErrEmbeddingTimeout     = &Error{Kind: KindEmbeddingTimeout}
	ErrStoreUnavailable     = &Error{Kind: KindStoreUnavailable}
	ErrCollectionNotFound   = &Error{Kind: KindCollectionNotFound}
	ErrNotFound             = &Error{Kind: KindNotFound}
)

func ConfigError(field, format string, args ...any) error {
	return &Error{Kind: KindConfig, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func ValidationError(field, format string, args ...any) error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

func EmbeddingUnavailable(msg string, cause error) error {
	return &Error{Kind: KindEmbeddingUnavailable, Msg: msg, Err: cause}
}

func EmbeddingTimeout(msg string, cause error) error {
	return &Error{Kind: KindEmbeddingTimeout, Msg: msg, Err: cause}
}

func StoreUnavailable(msg string, cause error) error {
	return &Error{Kind: KindStoreUnavailable, Msg: msg, Err: cause}
}

func CollectionNotFound(name string) error {
	return &Error{Kind: KindCollectionNotFound, Msg: fmt.Sprintf("collection %q not found", name)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is transient and the operation may be repeated.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindEmbeddingUnavailable, KindEmbeddingTimeout, KindStoreUnavailable:
		return true
	}
	return false
}
