package utils

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

var DefaultPhoneRegion = "IN"

// NormalizePhone parses a buyer phone number and returns it in E.164 form.
func NormalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	if region == "" {
		region = DefaultPhoneRegion
	}

	p, err := libphonenumber.Parse(raw, region)
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}
