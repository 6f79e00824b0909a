package core

import (
	"net/mail"
	"regexp"
	"strings"
)

var senderPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)

// SenderAddress extracts the lowercased mailbox address from a From header
func SenderAddress(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(senderPattern.FindString(from))
}

// IsSelfSent reports whether from names the mailbox owner
func IsSelfSent(from, owner string) bool {
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return false
	}
	return SenderAddress(from) == owner
}
