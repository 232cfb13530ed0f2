package selection

import (
	"errors"
	"fmt"
)

// ErrInvalidSelection is matched by every validation error of this package.
var ErrInvalidSelection = errors.New("invalid page selection")

// InvalidMergeOrderError reports a merge order that is not a permutation of a
// subset of the inputs. Index is -1 when the order as a whole is wrong.
type InvalidMergeOrderError struct {
	Index  int
	Inputs int
	Reason string
}

func (e *InvalidMergeOrderError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid merge order: %s (inputs: %d)", e.Reason, e.Inputs)
	}
	return fmt.Sprintf("invalid merge order: %s: %d (valid: 0-%d)", e.Reason, e.Index, e.Inputs-1)
}

func (e *InvalidMergeOrderError) Unwrap() error { return ErrInvalidSelection }

// InvalidPageRangeError carries the offending token and the last valid page.
type InvalidPageRangeError struct {
	Token  string
	Total  int
	Reason string
}

func (e *InvalidPageRangeError) Error() string {
	return fmt.Sprintf("invalid page range %q: %s (valid: 1-%d)", e.Token, e.Reason, e.Total)
}

func (e *InvalidPageRangeError) Unwrap() error { return ErrInvalidSelection }

// InvalidSplitOptionError reports a bad split strategy or option value.
type InvalidSplitOptionError struct {
	Option string
	Reason string
}

func (e *InvalidSplitOptionError) Error() string {
	return fmt.Sprintf("invalid split option %s: %s", e.Option, e.Reason)
}

func (e *InvalidSplitOptionError) Unwrap() error { return ErrInvalidSelection }
