package services

import (
	"crypto/rand"
	"math/big"
)

const generatedPasswordLen = 12

// Each generated password draws at least one character from every class.
var passwordClasses = []string{
	"ABCDEFGHJKLMNPQRSTUVWXYZ",
	"abcdefghijkmnopqrstuvwxyz",
	"23456789",
	"!@#$%&*",
}

// GenerateSecurePassword returns a random password with at least one
// upper-case letter, lower-case letter, digit and symbol.
// Do not log the returned string.
func GenerateSecurePassword() (string, error) {
	var all string
	out := make([]byte, 0, generatedPasswordLen)
	for _, class := range passwordClasses {
		c, err := randomByte(class)
		if err != nil {
			return "", err
		}
		out = append(out, c)
		all += class
	}
	for len(out) < generatedPasswordLen {
		c, err := randomByte(all)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	// Fisher-Yates so the class picks are not always in front.
	for i := len(out) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomByte(alphabet string) (byte, error) {
	i, err := randomInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
