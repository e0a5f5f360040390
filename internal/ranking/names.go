package ranking

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

var (
	separatorRun = regexp.MustCompile(`[\W_]+`)
	sizeSuffix   = regexp.MustCompile(`(?i)^\d+(\.\d+)?(ml|l)$`)
)

// NormalizeName case-folds s and collapses every run of whitespace,
// punctuation and underscores to a single "_". Leading and trailing
// whitespace is dropped first.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return separatorRun.ReplaceAllString(cases.Fold().String(s), "_")
}

// UniqueName mints the catalog identifier for a bottle, e.g.
// UniqueName("Blanton's Original", 750) == "Blanton_s_Original_750ml".
func UniqueName(name string, sizeML int) string {
	base := separatorRun.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.Trim(base, "_") + "_" + strconv.Itoa(sizeML) + "ml"
}

// SizeTag returns the bottle size suffix of a unique name ("750ml", "1L",
// "1.75L") or "" when the name carries none.
func SizeTag(uniqueName string) string {
	i := strings.LastIndexByte(uniqueName, '_')
	if i < 0 || i == len(uniqueName)-1 {
		return ""
	}
	tag := uniqueName[i+1:]
	if !sizeSuffix.MatchString(tag) {
		return ""
	}
	return tag
}
