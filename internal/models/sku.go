package models

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const skuFallbackPrefix = "GEN"

// GenerateSKU builds {CAT}-{BRA}-{time}-{random} where the prefixes are the
// first three letters of category and brand, upper-cased. The time and
// random parts are base36. Two calls in the same millisecond can collide;
// the unique index on sku is what actually guarantees uniqueness.
func GenerateSKU(category, brand string, now time.Time) string {
	return strings.Join([]string{
		skuPrefix(category),
		skuPrefix(brand),
		strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		randomSuffix(),
	}, "-")
}

func skuPrefix(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() >= 3 {
			break
		}
	}
	if b.Len() == 0 {
		return skuFallbackPrefix
	}
	return b.String()
}

func randomSuffix() string {
	// 36^6 keeps the suffix at six characters once padded.
	n := rand.Int63n(2176782336)
	s := strings.ToUpper(strconv.FormatInt(n, 36))
	return strings.Repeat("0", 6-len(s)) + s
}
