// Package util provides small string helpers shared by the transports.
package util

import "strings"

// TrimQuotes removes leading and trailing double quotes and surrounding
// whitespace. Some gateways quote header values.
func TrimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// MaskPhone hides the middle of a phone number for display.
// Numbers shorter than 10 characters are returned unchanged.
func MaskPhone(phone string) string {
	if len(phone) < 10 {
		return phone
	}
	return phone[:4] + "***" + phone[len(phone)-3:]
}

// MaskPhonePtr is MaskPhone for optional fields.
func MaskPhonePtr(phone *string) *string {
	if phone == nil {
		return nil
	}
	masked := MaskPhone(*phone)
	return &masked
}
