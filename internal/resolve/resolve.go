// Package resolve classifies generator output filenames into subject/age
// slots and builds canonical destination paths. It is pure: no I/O, no state.
package resolve

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Ages is the fixed aging timeline, youngest to oldest. Every subject has
// exactly one slot per age.
var Ages = []int{20, 25, 30, 35, 40, 45, 50, 55, 60, 65, 70}

var (
	// Preferred: S004_A45_00001_.png / S004_A70.png
	subjectAgeRe = regexp.MustCompile(`(?i)^(S\d{3,})_A(\d{1,3})`)
	// Legacy: subject004_age045_00008_.png
	legacyRe = regexp.MustCompile(`(?i)^subject(\d{3,})_age(\d{3})`)
)

// allowed raster extensions for generator output (lowercase, with dot).
var allowedExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Slot identifies one cell of the aging grid: a subject and a target age.
type Slot struct {
	SubjectID string
	Age       int
}

// Label returns the age label used in filenames and events, e.g. "A45".
func (s Slot) Label() string {
	return AgeLabel(s.Age)
}

// Key returns a stable map key for the slot.
func (s Slot) Key() string {
	return s.SubjectID + "/" + s.Label()
}

// AgeLabel formats an age as its slot label, e.g. 45 → "A45".
func AgeLabel(age int) string {
	return fmt.Sprintf("A%02d", age)
}

// ValidAge reports whether age is one of the fixed timeline ages.
func ValidAge(age int) bool {
	for _, a := range Ages {
		if a == age {
			return true
		}
	}
	return false
}

// Classify parses a raw path (or bare filename) into a Slot. The second
// return is false for anything that does not match a known convention:
// wrong extension, unknown name shape, or an age outside the timeline.
// Unclassifiable files are ignored by callers, never treated as errors.
func Classify(rawPath string) (Slot, bool) {
	base := filepath.Base(rawPath)
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExt[ext] {
		return Slot{}, false
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if m := subjectAgeRe.FindStringSubmatch(stem); m != nil {
		age, err := strconv.Atoi(m[2])
		if err != nil || !ValidAge(age) {
			return Slot{}, false
		}
		return Slot{SubjectID: strings.ToUpper(m[1]), Age: age}, true
	}

	if m := legacyRe.FindStringSubmatch(stem); m != nil {
		age, err := strconv.Atoi(m[2])
		if err != nil || !ValidAge(age) {
			return Slot{}, false
		}
		return Slot{SubjectID: "S" + m[1], Age: age}, true
	}

	return Slot{}, false
}

// CanonicalFilename returns the destination filename for a slot. Output is
// always normalized to png regardless of the source extension.
func CanonicalFilename(s Slot) string {
	return fmt.Sprintf("%s_%s.png", s.SubjectID, s.Label())
}

// CanonicalPath joins the subject's timeline directory with the canonical
// filename for the slot.
func CanonicalPath(timelineDir string, s Slot) string {
	return filepath.Join(timelineDir, CanonicalFilename(s))
}
