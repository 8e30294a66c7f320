package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for high-frequency validation on every inbound frame
var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	validate = newValidator()
)

const MaxEmojiBytes = 32

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("classid", func(fl validator.FieldLevel) bool {
		return IsValidClassID(fl.Field().String())
	})
	return v
}

// ValidatePayload runs struct-tag validation and converts failures to a
// Validation error naming the offending fields.
func ValidatePayload(payload interface{}) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return WrapError(Validation, "invalid payload", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return NewError(Validation, "invalid fields: "+strings.Join(fields, ", "))
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidClassID checks if a class ID can key a room
func IsValidClassID(classID string) bool {
	if len(classID) < 1 || len(classID) > 64 {
		return false
	}
	return idRegex.MatchString(classID)
}

// ValidateBody rejects empty, whitespace-only and oversized bodies.
// maxLen counts runes; zero disables the length check.
func ValidateBody(body string, maxLen int) error {
	if strings.TrimSpace(body) == "" {
		return WrapError(Validation, ErrEmptyBody.Error(), ErrEmptyBody)
	}
	if maxLen > 0 && utf8.RuneCountInString(body) > maxLen {
		return WrapError(Validation, ErrBodyTooLong.Error(), ErrBodyTooLong)
	}
	return nil
}

// ValidateEmoji accepts any non-blank token of at most MaxEmojiBytes bytes.
func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" || len(emoji) > MaxEmojiBytes {
		return WrapError(Validation, ErrInvalidEmoji.Error(), ErrInvalidEmoji)
	}
	return nil
}
