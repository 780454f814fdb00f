package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// common lists passwords rejected outright when RejectVeryWeak is set.
var common = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {},
	"qwerty": {}, "qwerty123": {}, "qwertyuiop": {},
	"letmein": {}, "changeme": {}, "welcome1": {},
	"webui": {}, "flavor": {}, "flavors": {},
}

// Validate checks length (in runes) and, with RejectVeryWeak, rejects
// trivially guessable passwords.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// ValidateFor is Validate plus a check that the password does not contain
// the user name.
func (c Config) ValidateFor(user, password string) error {
	if err := c.Validate(password); err != nil {
		return err
	}
	u := strings.ToLower(strings.TrimSpace(user))
	if utf8.RuneCountInString(u) >= 3 && strings.Contains(strings.ToLower(password), u) {
		return ErrPasswordContainsUser
	}
	return nil
}

func looksVeryWeak(pw string) bool {
	s := []rune(strings.TrimSpace(pw))
	if len(s) == 0 {
		return true
	}
	if _, ok := common[strings.ToLower(string(s))]; ok {
		return true
	}

	// One repeated character, or a single ascending/descending run
	// ("aaaa", "12345678", "zyxw").
	if len(s) > 1 {
		step := s[1] - s[0]
		if step >= -1 && step <= 1 {
			run := true
			for i := 2; i < len(s); i++ {
				if s[i]-s[i-1] != step {
					run = false
					break
				}
			}
			if run {
				return true
			}
		}
	}

	// Short PIN-like passwords.
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return digits == len(s) && len(s) < 12
}
