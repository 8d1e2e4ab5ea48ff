package cmn

import (
	"strings"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

// idAlphabet mirrors aistore's cmn/shortid.go custom alphabet for
// shortid.Shortid: 64 distinct characters, the exact alphabet size
// shortid requires.
const idAlphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
)

func shortIDGen() *shortid.Shortid {
	sidOnce.Do(func() {
		sid = shortid.MustNew(1, idAlphabet, uint64(time.Now().UnixNano()))
	})
	return sid
}

// GenUploadID generates a 32-character opaque multipart upload id
// (spec.md §4.9).
func GenUploadID() string {
	return genID(32)
}

// GenReceiptHandle generates an opaque queue receipt handle (spec.md
// §4.11).
func GenReceiptHandle() string {
	return genID(40)
}

func genID(n int) string {
	var b strings.Builder
	for b.Len() < n {
		b.WriteString(shortIDGen().MustGenerate())
	}
	return b.String()[:n]
}
