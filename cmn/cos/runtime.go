// Package cos provides small, dependency-free runtime helpers shared by
// every package in the fleet emulator: the uniform lifecycle contract,
// assertions, id/size helpers, and process-exit wrappers.
package cos

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Runner is the lifecycle contract every provider in the fleet satisfies:
// a name for logging/registry keys, a blocking Run that returns on
// shutdown or fatal error, and a Stop that is safe to call more than
// once. This mirrors aistore's cos.Runner, including the error argument
// Stop takes as the stop reason.
type Runner interface {
	Name() string
	Run() error
	Stop(error)
}

// Assert panics with msg if cond is false. Reserved for invariants that
// indicate a programming bug, never for request-time validation.
func Assert(cond bool, msg ...interface{}) {
	if !cond {
		panic(fmt.Sprint(msg...))
	}
}

// AssertNoErr panics if err is non-nil. Use only where the error
// indicates corrupted in-process invariants (e.g. marshaling a value the
// caller itself constructed), never for I/O.
func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// ExitLogf prints a formatted fatal message and exits the process.
// Reserved for startup-time configuration errors.
func ExitLogf(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandString returns a random lowercase-alphanumeric string of length n.
func RandString(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		AssertNoErr(err)
		b[i] = idAlphabet[idx.Int64()]
	}
	return string(b)
}

// RandB32 returns a random base32-encoded token of byteLen random bytes,
// lowercased and unpadded, for a wider namespace than RandString gives.
func RandB32(byteLen int) string {
	buf := make([]byte, byteLen)
	_, err := rand.Read(buf)
	AssertNoErr(err)
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf))
}

var sizeRe = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([kmgt]?i?b?)$`)

var sizeUnits = map[string]int64{
	"":   1,
	"b":  1,
	"k":  1 << 10,
	"kb": 1 << 10,
	"kib": 1 << 10,
	"m":  1 << 20,
	"mb": 1 << 20,
	"mib": 1 << 20,
	"g":  1 << 30,
	"gb": 1 << 30,
	"gib": 1 << 30,
	"t":  1 << 40,
	"tb": 1 << 40,
	"tib": 1 << 40,
}

// S2B parses a human size string ("8m", "1.5GiB", "4096") into bytes.
func S2B(s string) (int64, error) {
	s = strings.TrimSpace(s)
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	f, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	unit, ok := sizeUnits[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("invalid size unit in %q", s)
	}
	return int64(f * float64(unit)), nil
}

// ParseBool parses common truthy/falsy environment-variable spellings.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool %q", s)
}
