package selection

import "strings"

// Strategy selects how a split decomposes a document.
type Strategy string

const (
	StrategyPages Strategy = "pages"
	StrategyRange Strategy = "range"
	StrategySize  Strategy = "size"
)

// ParseStrategy accepts the wire names of the split strategies.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyPages, StrategyRange, StrategySize:
		return st, nil
	case "":
		return "", &InvalidSplitOptionError{Option: "splitStrategy", Reason: "missing"}
	default:
		return "", &InvalidSplitOptionError{Option: "splitStrategy", Reason: "must be one of pages, range, size"}
	}
}

// Plan is the page selection chosen at submission time. It is either a
// MergePlan or a SplitPlan.
type Plan interface {
	isPlan()
}

// MergePlan holds the resolved order of input indices.
type MergePlan struct {
	Order []int
}

// SplitPlan describes one split strategy and its option.
type SplitPlan struct {
	Strategy     Strategy
	Ranges       []PageRange
	PagesPerFile int
}

func (MergePlan) isPlan() {}
func (SplitPlan) isPlan() {}

// NewSplitPlan validates a split request against a document of total pages.
// rangeTokens is only read for the range strategy and pagesPerFile only for size.
func NewSplitPlan(strategy Strategy, rangeTokens []string, pagesPerFile, total int) (SplitPlan, error) {
	p := SplitPlan{Strategy: strategy}
	switch strategy {
	case StrategyPages:
		p.PagesPerFile = 1
	case StrategyRange:
		ranges, err := ParseRanges(rangeTokens, total)
		if err != nil {
			return SplitPlan{}, err
		}
		p.Ranges = ranges
	case StrategySize:
		if pagesPerFile < 1 {
			return SplitPlan{}, &InvalidSplitOptionError{Option: "pagesPerFile", Reason: "must be a positive integer"}
		}
		p.PagesPerFile = pagesPerFile
	default:
		return SplitPlan{}, &InvalidSplitOptionError{Option: "splitStrategy", Reason: "must be one of pages, range, size"}
	}
	if _, err := p.Chunks(total); err != nil {
		return SplitPlan{}, err
	}
	return p, nil
}

// Chunks resolves the page subsets of the plan for a document of total pages,
// one entry per output document. Ranges are re-checked against total since the
// document may be inspected again at execution time.
func (p SplitPlan) Chunks(total int) ([]PageRange, error) {
	switch p.Strategy {
	case StrategyPages:
		return PerPage(total)
	case StrategySize:
		return ChunkBySize(total, p.PagesPerFile)
	case StrategyRange:
		if len(p.Ranges) == 0 {
			return nil, &InvalidSplitOptionError{Option: "pageRanges", Reason: "at least one range is required"}
		}
		out := make([]PageRange, 0, len(p.Ranges))
		for _, r := range p.Ranges {
			if r.Start < 1 || r.Start > r.End || r.End > total {
				return nil, &InvalidPageRangeError{Token: r.Label(), Total: total, Reason: "range outside the document"}
			}
			out = append(out, r)
		}
		return out, nil
	default:
		return nil, &InvalidSplitOptionError{Option: "splitStrategy", Reason: "unknown strategy " + string(p.Strategy)}
	}
}
