package pdf

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/local/pdfdispatcher/internal/selection"
)

const (
	mergedPrefix = "merged_"
	splitPrefix  = "split_"
	pdfExt       = ".pdf"
	tmpExt       = ".tmp"
)

var (
	splitNameRe  = regexp.MustCompile(`^split_(.+)_part(\d{3,})_p(\d+)-(\d+)\.pdf$`)
	storedNameRe = regexp.MustCompile(`^([^_]+)_(\d{2,})_.+$`)
)

// MergedName is the single output of a merge.
func MergedName(opID string) string { return mergedPrefix + opID + pdfExt }

// SplitName names the part-th (1-based) output of a split covering pr.
func SplitName(opID string, part int, pr selection.PageRange) string {
	return fmt.Sprintf("%s%s_part%03d_p%d-%d%s", splitPrefix, opID, part, pr.Start, pr.End, pdfExt)
}

// StoredName names the index-th upload of an operation inside the upload dir.
func StoredName(opID string, index int, sanitized string) string {
	return fmt.Sprintf("%s_%02d_%s", opID, index, sanitized)
}

// ParseOutputName recovers the operation id from any name produced by
// MergedName, SplitName or StoredName.
func ParseOutputName(name string) (string, bool) {
	if m := splitNameRe.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	if strings.HasPrefix(name, mergedPrefix) && strings.HasSuffix(name, pdfExt) {
		id := strings.TrimSuffix(strings.TrimPrefix(name, mergedPrefix), pdfExt)
		return id, id != ""
	}
	if m := storedNameRe.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName keeps a client-supplied filename safe for the local filesystem.
func SanitizeName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeNameRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "document"
	}
	if !strings.HasSuffix(strings.ToLower(name), pdfExt) {
		name += pdfExt
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}
