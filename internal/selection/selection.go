package selection

import (
	"fmt"
	"strconv"
	"strings"
)

// PageRange is a 1-based, inclusive page interval.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Pages returns the number of pages covered by the range.
func (r PageRange) Pages() int { return r.End - r.Start + 1 }

// Label renders the range the way it is embedded in output names ("3-7").
func (r PageRange) Label() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Selector returns the range in pdfcpu page selection syntax.
func (r PageRange) Selector() string {
	if r.Start == r.End {
		return strconv.Itoa(r.Start)
	}
	return r.Label()
}

// ResolveMergeOrder validates an explicit merge order against n inputs.
// An empty order means upload order [0, n). A shorter order selects a subset.
func ResolveMergeOrder(n int, order []int) ([]int, error) {
	if n <= 0 {
		return nil, &InvalidMergeOrderError{Index: -1, Inputs: n, Reason: "no inputs"}
	}
	if len(order) == 0 {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	if len(order) > n {
		return nil, &InvalidMergeOrderError{Index: -1, Inputs: n, Reason: fmt.Sprintf("order has %d entries", len(order))}
	}
	seen := make(map[int]bool, len(order))
	out := make([]int, 0, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= n {
			return nil, &InvalidMergeOrderError{Index: idx, Inputs: n, Reason: "index out of range"}
		}
		if seen[idx] {
			return nil, &InvalidMergeOrderError{Index: idx, Inputs: n, Reason: "duplicate index"}
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

// ApplyOrder returns items permuted by a resolved order.
func ApplyOrder[T any](items []T, order []int) []T {
	out := make([]T, 0, len(order))
	for _, idx := range order {
		out = append(out, items[idx])
	}
	return out
}

// ParseRange parses "n" or "start-end" against a document of total pages.
func ParseRange(token string, total int) (PageRange, error) {
	raw := token
	token = strings.TrimSpace(token)
	if token == "" {
		return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "empty range"}
	}

	var start, end int
	if i := strings.Index(token, "-"); i >= 0 {
		s, err := parsePage(token[:i])
		if err != nil {
			return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "start is not a page number"}
		}
		e, err := parsePage(token[i+1:])
		if err != nil {
			return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "end is not a page number"}
		}
		start, end = s, e
	} else {
		n, err := parsePage(token)
		if err != nil {
			return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "not a page number"}
		}
		start, end = n, n
	}

	switch {
	case start > end:
		return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "start is after end"}
	case end > total:
		return PageRange{}, &InvalidPageRangeError{Token: raw, Total: total, Reason: "end is beyond the last page"}
	}
	return PageRange{Start: start, End: end}, nil
}

func parsePage(s string) (int, error) {
	s = strings.TrimSpace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("page %d below 1", n)
	}
	return n, nil
}

// ParseRanges validates each token independently and keeps the given order.
// Overlapping or repeated ranges are kept as-is.
func ParseRanges(tokens []string, total int) ([]PageRange, error) {
	if len(tokens) == 0 {
		return nil, &InvalidSplitOptionError{Option: "pageRanges", Reason: "at least one range is required"}
	}
	out := make([]PageRange, 0, len(tokens))
	for _, tok := range tokens {
		r, err := ParseRange(tok, total)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// SplitTokens splits a comma separated range list ("1-2, 5").
func SplitTokens(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkBySize cuts total pages into ceil(total/k) chunks of k pages; the last
// chunk may be shorter.
func ChunkBySize(total, k int) ([]PageRange, error) {
	if k < 1 {
		return nil, &InvalidSplitOptionError{Option: "pagesPerFile", Reason: fmt.Sprintf("must be a positive integer, got %d", k)}
	}
	if total < 1 {
		return nil, &InvalidSplitOptionError{Option: "totalPages", Reason: "document has no pages"}
	}
	count := (total + k - 1) / k
	out := make([]PageRange, 0, count)
	for i := 0; i < count; i++ {
		lo := i * k
		hi := min((i+1)*k, total)
		out = append(out, PageRange{Start: lo + 1, End: hi})
	}
	return out, nil
}

// PerPage yields one single-page range per page.
func PerPage(total int) ([]PageRange, error) { return ChunkBySize(total, 1) }
