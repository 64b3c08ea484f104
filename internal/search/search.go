package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Query execution defaults. Scheduled re-execution always pages with a fixed
// size and a hard deadline; single-firing failures are logged and retried on
// the next firing, never blocked on.
const (
	DefaultPageSize = 250
	DefaultTimeout  = 10 * time.Second
)

// ErrEngineUnavailable is returned by engines that are not ready to serve.
var ErrEngineUnavailable = errors.New("search: engine unavailable")

// SortOrder orders results by the engine's relevance score.
type SortOrder string

const (
	Ascending  SortOrder = "ascending"
	Descending SortOrder = "descending"
)

// ParseSortOrder maps the stored sort string onto a SortOrder, defaulting
// to ascending for empty or unknown values.
func ParseSortOrder(s string) SortOrder {
	if SortOrder(strings.ToLower(s)) == Descending {
		return Descending
	}
	return Ascending
}

// Filter is a validated query expression. The zero value matches nothing
// and is rejected by engines.
type Filter struct {
	expr string
}

// ParseFilter validates a stored query expression. Validation is shallow:
// the expression must be non-empty with balanced quotes and parentheses.
// Deeper syntax errors surface from the engine at execution time.
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, errors.New("search: empty query expression")
	}
	depth := 0
	inQuote := false
	for _, r := range expr {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return Filter{}, fmt.Errorf("search: unbalanced parentheses in %q", expr)
			}
		}
	}
	if inQuote {
		return Filter{}, fmt.Errorf("search: unterminated quote in %q", expr)
	}
	if depth != 0 {
		return Filter{}, fmt.Errorf("search: unbalanced parentheses in %q", expr)
	}
	return Filter{expr: expr}, nil
}

func (f Filter) String() string { return f.expr }
func (f Filter) IsZero() bool   { return f.expr == "" }

// Identity is the principal a query executes as. Scheduled queries run
// under the system identity with the owning user recorded for attribution.
type Identity struct {
	UserID string
	System bool
}

// SystemIdentity returns the delegated system principal acting on behalf
// of the given user.
func SystemIdentity(userID string) Identity {
	return Identity{UserID: userID, System: true}
}

// Request is one page of query execution.
type Request struct {
	Filter   Filter
	Sort     SortOrder
	Sources  []string // empty means enterprise-wide
	PageSize int
	Index    int // 1-based start index
}

// Result is a single hit. Attributes carries the engine's per-hit metadata
// untouched; the scheduler only serializes it.
type Result struct {
	ID         string         `json:"id"`
	Title      string         `json:"title,omitempty"`
	Relevance  float64        `json:"relevance,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Response is one page of hits plus the total count across pages.
type Response struct {
	Results []Result
	Hits    int64
}

// Engine executes search requests. Implementations are provided by the
// host; the scheduler treats them as opaque and isolates their failures
// per firing.
type Engine interface {
	Query(ctx context.Context, id Identity, req Request) (*Response, error)
}
