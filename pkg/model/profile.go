package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	MaxIdentityLength  = 32
	MaxAttributes      = 8
	MaxAttributeKeyLen = 32
	MaxAttributeValLen = 256
)

var (
	ErrIdentityEmpty        = errors.New("identity must not be empty")
	ErrIdentityTooLong      = fmt.Errorf("identity must not exceed %d characters", MaxIdentityLength)
	ErrIdentityInvalidChars = errors.New("identity must not contain control characters")
	ErrLanguageInvalid      = errors.New("language must be a language code such as \"en\" or \"pt-BR\"")
)

var languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{2,8})*$`)

// PublicProfile is what a partner gets to see about the other occupant.
type PublicProfile struct {
	Username   string            `json:"username"`
	Language   string            `json:"language"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// UserProfile is a user waiting in the queue or sitting in a room.
// Conn references the transport connection; it is never owned here.
type UserProfile struct {
	Username   string
	Language   string
	Attributes map[string]string
	Conn       ConnID
	JoinedAt   time.Time
}

// Public strips the connection details.
func (p UserProfile) Public() PublicProfile {
	var attrs map[string]string
	if len(p.Attributes) > 0 {
		attrs = make(map[string]string, len(p.Attributes))
		for k, v := range p.Attributes {
			attrs[k] = v
		}
	}
	return PublicProfile{
		Username:   p.Username,
		Language:   p.Language,
		Attributes: attrs,
	}
}

// ValidateIdentity checks that a display identity is 1-32 characters once
// trimmed and carries no control characters.
func ValidateIdentity(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrIdentityEmpty
	}
	if utf8.RuneCountInString(name) > MaxIdentityLength {
		return ErrIdentityTooLong
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrIdentityInvalidChars
		}
	}
	return nil
}

// ValidateLanguage accepts ISO 639 codes with optional BCP 47 subtags.
func ValidateLanguage(code string) error {
	if !languagePattern.MatchString(code) {
		return ErrLanguageInvalid
	}
	return nil
}

// SameLanguage compares two declared language codes case-insensitively.
func SameLanguage(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// PrimaryLanguage returns the lowercase primary subtag ("pt" for "pt-BR").
func PrimaryLanguage(code string) string {
	primary, _, _ := strings.Cut(strings.TrimSpace(code), "-")
	return strings.ToLower(primary)
}
