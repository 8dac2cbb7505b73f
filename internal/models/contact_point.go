package models

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// SupporterLink is the directed relation checker -> supporter with the
// supporter's contact preferences.
type SupporterLink struct {
	ID        string `json:"id"`
	CheckerID string `json:"checker_id"`
	// SupporterID is set when the contact is a registered user. Raw phone or
	// email contacts leave it empty.
	SupporterID string `json:"supporter_id,omitempty"`
	Name        string `json:"name"`

	Phone          string   `json:"phone,omitempty"`
	Email          string   `json:"email,omitempty"`
	DeviceTokens   []string `json:"device_tokens,omitempty"`
	TelegramChatID int64    `json:"telegram_chat_id,omitempty"`

	Priority        int  `json:"priority"`
	PushEnabled     bool `json:"push_enabled"`
	SMSEnabled      bool `json:"sms_enabled"`
	EmailEnabled    bool `json:"email_enabled"`
	VoiceEnabled    bool `json:"voice_enabled"`
	TelegramEnabled bool `json:"telegram_enabled"`
	Active          bool `json:"active"`
}

// Identity is the key used in Alert.NotifiedSupporterIDs and in the delivery
// log: the user id when known, otherwise the link id.
func (l SupporterLink) Identity() string {
	if l.SupporterID != "" {
		return l.SupporterID
	}
	return "link:" + l.ID
}

// Checker is the read-only profile slice the escalation flow needs.
type Checker struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Phone             string  `json:"phone,omitempty"`
	LastKnownLocation *string `json:"last_known_location,omitempty"`
}

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "US"

// NormalizePhone returns the number in E.164, so a directory entry such as
// "(555) 123-4567" matches the "+15551234567" form providers report. Input
// that does not parse as a phone number falls back to its digits.
func NormalizePhone(phone string) string {
	return NormalizePhoneIn(phone, DefaultRegion)
}

// NormalizePhoneIn is NormalizePhone with an explicit default region.
func NormalizePhoneIn(phone, region string) string {
	digits := stripPhone(phone)
	if digits == "" {
		return ""
	}
	num, err := phonenumbers.Parse(digits, region)
	if err != nil {
		return digits
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// stripPhone keeps digits and a leading "+".
func stripPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	var b strings.Builder
	for i, r := range phone {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
