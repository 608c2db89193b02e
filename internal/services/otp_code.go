package services

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const otpLength = 6

var otpRange = big.NewInt(900000)

// GenerateOTPCode returns a uniformly random code in 100000..999999.
func GenerateOTPCode() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// ValidOTPFormat reports whether code is exactly six ASCII digits.
func ValidOTPFormat(code string) bool {
	if len(code) != otpLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
