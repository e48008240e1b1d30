// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package variables

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator computes the value of a built-in variable. It is called on every lookup.
type Generator func() string

var firstNames = []string{
	"Ada", "Alan", "Barbara", "Claude", "Dennis", "Edsger", "Frances", "Grace",
	"Hedy", "Ivan", "John", "Katherine", "Linus", "Margaret", "Niklaus", "Radia",
}

const (
	alphaNumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	hexDigits    = "0123456789abcdef"
)

// DefaultBuiltins returns the built-in generator table. Names carry their leading '$'.
func DefaultBuiltins() map[string]Generator {
	return map[string]Generator{
		"$guid":       uuid.NewString,
		"$randomUUID": uuid.NewString,
		"$timestamp": func() string {
			return strconv.FormatInt(time.Now().Unix(), 10)
		},
		"$isoTimestamp": func() string {
			return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		},
		"$randomInt": func() string {
			return strconv.Itoa(rand.IntN(1001))
		},
		"$randomBoolean": func() string {
			return strconv.FormatBool(rand.IntN(2) == 1)
		},
		"$randomAlphaNumeric": func() string {
			return randomFrom(alphaNumeric, 1)
		},
		"$randomHexadecimal": func() string {
			return randomFrom(hexDigits, 1)
		},
		"$randomFirstName": func() string {
			return firstNames[rand.IntN(len(firstNames))]
		},
		"$randomEmail": func() string {
			name := strings.ToLower(firstNames[rand.IntN(len(firstNames))])
			return name + "." + randomFrom(alphaNumeric, 6) + "@example.com"
		},
	}
}

func randomFrom(alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
