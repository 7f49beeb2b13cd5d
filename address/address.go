// Package address normalizes raw phone-number strings into the WhatsApp
// network's domain-suffixed JID form and provides the Brazilian
// alternate-country-code transform used by the send retry policy.
package address

import (
	"strings"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// UserSuffix is the canonical direct-message domain suffix.
const UserSuffix = "@s.whatsapp.net"

// GroupSuffix is the group-chat domain suffix.
const GroupSuffix = "@g.us"

// Normalize converts a raw phone-number string into its canonical JID form.
// Any existing user suffix is stripped first; the remainder must be a
// non-empty all-digit string, otherwise ErrInvalidAddressFormat is returned.
func Normalize(raw string) (string, error) {
	phone := strings.TrimSpace(strings.ReplaceAll(raw, UserSuffix, ""))

	if !isDigits(phone) {
		return "", errors.Wrap(errors.ErrInvalidAddressFormat, "address", "Normalize", "validating "+raw)
	}

	return phone + UserSuffix, nil
}

// NormalizeGroup converts a raw group identifier into its group JID form.
// Group identifiers are opaque beyond the suffix, so only emptiness is
// rejected.
func NormalizeGroup(raw string) (string, error) {
	id := strings.TrimSpace(strings.ReplaceAll(raw, GroupSuffix, ""))

	if id == "" {
		return "", errors.Wrap(errors.ErrInvalidAddressFormat, "address", "NormalizeGroup", "validating "+raw)
	}

	return id + GroupSuffix, nil
}

// AltCountryFormat toggles a Brazilian number between its 8 and 9 digit
// subscriber forms. For numbers with country code 55 it drops the leading
// mobile "9" from a 9-digit subscriber number, or inserts one before an
// 8-digit subscriber number. The two defined cases are each other's inverse;
// every other shape passes through unchanged. Pure, no failure path.
func AltCountryFormat(phone string) string {
	if !strings.HasPrefix(phone, "55") {
		return phone
	}

	ddi := phone[:2]
	if len(phone) < 4 {
		return phone
	}
	ddd := phone[2:4]
	subscriber := phone[4:]

	switch len(subscriber) {
	case 9:
		return ddi + ddd + subscriber[1:]
	case 8:
		return ddi + ddd + "9" + subscriber
	}
	return phone
}

// AltCountryJID applies AltCountryFormat and normalizes the result.
func AltCountryJID(raw string) (string, error) {
	phone := strings.TrimSpace(strings.ReplaceAll(raw, UserSuffix, ""))
	return Normalize(AltCountryFormat(phone))
}

// StripSuffix removes any known domain suffix from a JID, returning the bare
// phone portion.
func StripSuffix(jid string) string {
	if idx := strings.IndexByte(jid, '@'); idx >= 0 {
		return jid[:idx]
	}
	return jid
}

// IsGroup reports whether the JID denotes a group chat.
func IsGroup(jid string) bool {
	return strings.Contains(jid, GroupSuffix)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
