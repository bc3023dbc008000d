// Package mailaddr parses and validates email addresses.
package mailaddr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/badoux/checkmail"
)

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// Address is a parsed email address
type Address struct {
	Local  string
	Domain string
}

// Parse parses and normalizes an email address.
// The input is trimmed and lowercased before validation.
func Parse(email string) (Address, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if err := checkmail.ValidateFormat(email); err != nil {
		return Address{}, fmt.Errorf("invalid email address %q: %w", email, err)
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return Address{}, fmt.Errorf("invalid email address %q: missing @", email)
	}

	addr := Address{
		Local:  email[:at],
		Domain: email[at+1:],
	}

	if !domainRegex.MatchString(addr.Domain) {
		return Address{}, fmt.Errorf("invalid email domain %q", addr.Domain)
	}

	return addr, nil
}

// String returns the address in local@domain form
func (a Address) String() string {
	return a.Local + "@" + a.Domain
}

// ValidDomain reports whether s looks like a resolvable DNS domain name
func ValidDomain(s string) bool {
	return domainRegex.MatchString(strings.ToLower(strings.TrimSpace(s)))
}
