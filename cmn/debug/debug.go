// Package debug provides assertions compiled in only when the fleet is
// built (or run) with debug asserts enabled, mirroring aistore's
// cmn/debug split between a no-op and an asserting build.
package debug

import (
	"fmt"
	"os"
)

// Enabled toggles the asserts below at runtime via FLEET_DEBUG=1; the
// teacher splits this at compile time with a build tag, but a runtime
// flag keeps a single binary usable both ways during development.
var Enabled = os.Getenv("FLEET_DEBUG") != ""

// Assert panics with msg when cond is false and debug asserts are on.
func Assert(cond bool, msg ...interface{}) {
	if Enabled && !cond {
		panic(fmt.Sprint(msg...))
	}
}

// AssertNoErr panics on a non-nil err when debug asserts are on.
func AssertNoErr(err error) {
	if Enabled && err != nil {
		panic(err)
	}
}

// Errorln logs to stderr only when debug asserts are on; used for the
// high-frequency traces that would otherwise drown out real logging.
func Errorln(a ...interface{}) {
	if Enabled {
		fmt.Fprintln(os.Stderr, a...)
	}
}
