package servicecall

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const idSuffixLen = 6

// NewID returns "<prefix>_<unix ms>_<6 base36 chars>".
func NewID(prefix string, now time.Time) string {
	var b strings.Builder
	b.Grow(len(prefix) + 22)
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for range idSuffixLen {
		b.WriteByte(base36[rand.IntN(len(base36))])
	}
	return b.String()
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"
