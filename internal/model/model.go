package model

import (
	"errors"
	"fmt"
	"strings"
)

// UserType distinguishes registered users from invited placeholders.
type UserType string

const (
	// UserTypeStandard marks a user that completed sign-up.
	UserTypeStandard UserType = "STANDARD"
	// UserTypeAnonymous marks a user created by an invitation before sign-up.
	UserTypeAnonymous UserType = "ANONYMOUS"
)

// UserStatus captures whether an account is usable.
type UserStatus string

const (
	UserStatusActive   UserStatus = "ACTIVE"
	UserStatusInactive UserStatus = "INACTIVE"
)

// Field names accepted by Record.Field.
const (
	FieldCreatedAt  = "createdAt"
	FieldUpdatedAt  = "updatedAt"
	FieldPageNumber = "pageNumber"
	FieldLastRead   = "lastRead"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidID indicates that an identifier is empty or exceeds storage bounds.
	ErrInvalidID = errors.New("model: invalid id")
	// ErrInvalidEmail indicates that an email address is empty or malformed.
	ErrInvalidEmail = errors.New("model: invalid email")
	// ErrInvalidUserType indicates that a user type is not recognized.
	ErrInvalidUserType = errors.New("model: invalid user type")
	// ErrInvalidPageNumber indicates that a page number is not positive.
	ErrInvalidPageNumber = errors.New("model: invalid page number")
)

// Record is implemented by every stored entity.
type Record interface {
	RecordID() string
	// Field returns the numeric value of the named field, if the entity has it.
	Field(name string) (int64, bool)
}

// ValidateID checks a caller-supplied identifier. Empty input is allowed and means "assign one".
func ValidateID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIdentifierLength)
	}
	return trimmed, nil
}

// RequireID validates a reference to another entity.
func RequireID(rawInput string) (string, error) {
	trimmed, err := ValidateID(rawInput)
	if err != nil {
		return "", err
	}
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	return trimmed, nil
}

// NormalizeEmail lowercases and trims an address and checks its basic shape.
func NormalizeEmail(rawInput string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, rawInput)
	}
	return trimmed, nil
}

// ParseUserType validates raw input. Empty input defaults to STANDARD.
func ParseUserType(rawInput string) (UserType, error) {
	switch UserType(strings.ToUpper(strings.TrimSpace(rawInput))) {
	case "", UserTypeStandard:
		return UserTypeStandard, nil
	case UserTypeAnonymous:
		return UserTypeAnonymous, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUserType, rawInput)
	}
}

// ValidatePageNumber checks that an annotation page is 1-based.
func ValidatePageNumber(value int64) error {
	if value <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPageNumber, value)
	}
	return nil
}
