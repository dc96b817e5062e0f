// Package session keeps the signed-in user's profile in a persistent store
// and publishes its mutations.
package session

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	StatusNotBooked = "not_booked"
	StatusBooked    = "booked"

	maxNameLength    = 50
	maxCollegeLength = 100
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrInvalidProfile = errors.New("invalid profile")
)

// Profile is the persisted session state of a user.
type Profile struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	College         string `json:"college"`
	InterviewStatus string `json:"interviewStatus"`
	InterviewDate   string `json:"interviewDate,omitempty"`
	InterviewTime   string `json:"interviewTime,omitempty"`
	PaymentID       string `json:"paymentId,omitempty"`
}

// NormalizeEmail is the store key form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName requires a non-empty name of letters and spaces.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", ErrInvalidProfile, maxNameLength)
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' {
			return fmt.Errorf("%w: name may contain only letters and spaces", ErrInvalidProfile)
		}
	}
	return nil
}

// ValidateCollege requires a non-empty college name.
func ValidateCollege(college string) error {
	college = strings.TrimSpace(college)
	if college == "" {
		return fmt.Errorf("%w: college is required", ErrInvalidProfile)
	}
	if utf8.RuneCountInString(college) > maxCollegeLength {
		return fmt.Errorf("%w: college must be at most %d characters", ErrInvalidProfile, maxCollegeLength)
	}
	return nil
}
