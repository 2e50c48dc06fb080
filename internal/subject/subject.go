// Package subject implements the subject lifecycle: identifier parsing,
// folder allocation under the aging root, the subject_notes.json sidecar,
// and the registry mirror.
package subject

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Layout under the aging root: <agingRoot>/<Sex>/<Ethnicity>/subjectNNN.

var (
	idRe     = regexp.MustCompile(`^[sS]?(\d+)$`)
	folderRe = regexp.MustCompile(`(?i)^subject(\d+)$`)
	// Characters illegal in Windows path components.
	illegalRe    = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// ParseID normalizes a subject reference ("S021", "s21", "21") to its
// canonical ID, numeric value, and folder name. Width is padded to at least
// three digits and preserved beyond ("S1234" stays four wide).
func ParseID(raw string) (id string, n int, folder string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, "", fmt.Errorf("subject: missing subject id")
	}
	m := idRe.FindStringSubmatch(raw)
	if m == nil {
		return "", 0, "", fmt.Errorf("subject: invalid subject id: %s", raw)
	}
	n, err = strconv.Atoi(m[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("subject: invalid subject id: %s", raw)
	}
	return FormatID(n), n, FolderName(n), nil
}

// FormatID renders a numeric subject as its canonical ID, e.g. 21 → "S021".
func FormatID(n int) string {
	return fmt.Sprintf("S%0*d", idWidth(n), n)
}

// FolderName renders the on-disk folder for a numeric subject, e.g.
// 21 → "subject021".
func FolderName(n int) string {
	return fmt.Sprintf("subject%0*d", idWidth(n), n)
}

func idWidth(n int) int {
	w := len(strconv.Itoa(n))
	if w < 3 {
		return 3
	}
	return w
}

// SafeFolder sanitizes a value for use as a path component, replacing
// Windows-illegal characters and collapsing whitespace.
func SafeFolder(name, fallback string) string {
	s := strings.TrimSpace(name)
	if s == "" {
		return fallback
	}
	s = illegalRe.ReplaceAllString(s, "_")
	s = strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return fallback
	}
	return s
}

// NormalizeSex folds free-form sex values into the two folder buckets the
// dataset uses, passing anything else through sanitized.
func NormalizeSex(sex string) string {
	s := strings.ToLower(strings.TrimSpace(sex))
	switch {
	case strings.HasPrefix(s, "m"):
		return "Male"
	case strings.HasPrefix(s, "f"):
		return "Female"
	default:
		return SafeFolder(sex, "Unsorted")
	}
}

// ScanMaxNumber walks <agingRoot>/<sex>/<ethnicity> two levels deep and
// returns the highest subjectNNN number found, or 0.
func ScanMaxNumber(agingRoot string) int {
	maxN := 0
	sexDirs, err := os.ReadDir(agingRoot)
	if err != nil {
		return 0
	}
	for _, sexDir := range sexDirs {
		if !sexDir.IsDir() {
			continue
		}
		ethDirs, err := os.ReadDir(filepath.Join(agingRoot, sexDir.Name()))
		if err != nil {
			continue
		}
		for _, ethDir := range ethDirs {
			if !ethDir.IsDir() {
				continue
			}
			subjDirs, err := os.ReadDir(filepath.Join(agingRoot, sexDir.Name(), ethDir.Name()))
			if err != nil {
				continue
			}
			for _, subjDir := range subjDirs {
				if !subjDir.IsDir() {
					continue
				}
				m := folderRe.FindStringSubmatch(subjDir.Name())
				if m == nil {
					continue
				}
				if n, err := strconv.Atoi(m[1]); err == nil && n > maxN {
					maxN = n
				}
			}
		}
	}
	return maxN
}

// LocateFolder finds an existing subject folder. With sex and ethnicity
// hints it probes the direct path first, then falls back to scanning every
// <sex>/<ethnicity> bucket.
func LocateFolder(agingRoot, folderName, sex, ethnicity string) (string, bool) {
	if sex != "" && ethnicity != "" {
		cand := filepath.Join(agingRoot, SafeFolder(sex, "Unsorted"), SafeFolder(ethnicity, "Unsorted"), folderName)
		if info, err := os.Stat(cand); err == nil && info.IsDir() {
			return cand, true
		}
	}

	sexDirs, err := os.ReadDir(agingRoot)
	if err != nil {
		return "", false
	}
	for _, sexDir := range sexDirs {
		if !sexDir.IsDir() {
			continue
		}
		ethDirs, err := os.ReadDir(filepath.Join(agingRoot, sexDir.Name()))
		if err != nil {
			continue
		}
		for _, ethDir := range ethDirs {
			if !ethDir.IsDir() {
				continue
			}
			cand := filepath.Join(agingRoot, sexDir.Name(), ethDir.Name(), folderName)
			if info, err := os.Stat(cand); err == nil && info.IsDir() {
				return cand, true
			}
		}
	}
	return "", false
}
