package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"searchwatch/internal/store"
	"searchwatch/pkg/logx"
)

// catalogBucket holds the locally indexed entries the LocalEngine queries.
const catalogBucket = "catalog entries"

// clause is one predicate of a filter expression: attr op "value".
type clause struct {
	attr  string
	op    string // "=" or "like"
	value string
}

// parseClauses splits a filter expression into AND-joined clauses. The
// grammar is deliberately small: `attr = "v"` and `attr like "v"` joined by
// AND. Engines with richer query languages substitute their own parsing.
func parseClauses(f Filter) ([]clause, error) {
	var out []clause
	for _, part := range strings.Split(f.String(), " AND ") {
		part = strings.TrimSpace(part)
		fields := strings.SplitN(part, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("search: unsupported clause %q", part)
		}
		op := strings.ToLower(fields[1])
		if op != "=" && op != "like" {
			return nil, fmt.Errorf("search: unsupported operator %q", fields[1])
		}
		val := strings.TrimSpace(fields[2])
		if len(val) < 2 || val[0] != '"' || val[len(val)-1] != '"' {
			return nil, fmt.Errorf("search: value must be quoted in %q", part)
		}
		out = append(out, clause{
			attr:  strings.ToLower(fields[0]),
			op:    op,
			value: val[1 : len(val)-1],
		})
	}
	return out, nil
}

func (c clause) matches(r Result) bool {
	var got string
	switch c.attr {
	case "id":
		got = r.ID
	case "title":
		got = r.Title
	default:
		v, ok := r.Attributes[c.attr]
		if !ok {
			return false
		}
		got = fmt.Sprint(v)
	}
	if c.op == "=" {
		return got == c.value
	}
	return strings.Contains(strings.ToLower(got), strings.ToLower(c.value))
}

// LocalEngine evaluates filters against entries stored in the shared
// key-value backend. It serves standalone deployments and tests; federated
// deployments plug in their own Engine.
type LocalEngine struct {
	backend store.Backend
	log     logx.Logger
}

func NewLocalEngine(b store.Backend, log logx.Logger) *LocalEngine {
	return &LocalEngine{backend: b, log: log}
}

// Index stores or replaces one entry.
func (e *LocalEngine) Index(ctx context.Context, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("search: encode entry %q: %w", r.ID, err)
	}
	return e.backend.Put(ctx, catalogBucket, r.ID, raw)
}

func (e *LocalEngine) Query(ctx context.Context, id Identity, req Request) (*Response, error) {
	if req.Filter.IsZero() {
		return nil, fmt.Errorf("search: empty filter")
	}
	clauses, err := parseClauses(req.Filter)
	if err != nil {
		return nil, err
	}

	keys, err := e.backend.Keys(ctx, catalogBucket)
	if err != nil {
		return nil, fmt.Errorf("search: list entries: %w", err)
	}

	var hits []Result
scan:
	for _, key := range keys {
		raw, ok, err := e.backend.Get(ctx, catalogBucket, key)
		if err != nil {
			return nil, fmt.Errorf("search: load entry %q: %w", key, err)
		}
		if !ok {
			continue
		}
		var r Result
		if err := json.Unmarshal(raw, &r); err != nil {
			e.log.Warn("skipping corrupt catalog entry",
				logx.String("key", key), logx.Err(err))
			continue
		}
		for _, c := range clauses {
			if !c.matches(r) {
				continue scan
			}
		}
		hits = append(hits, r)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if req.Sort == Descending {
			return hits[i].Relevance > hits[j].Relevance
		}
		return hits[i].Relevance < hits[j].Relevance
	})

	total := int64(len(hits))
	start := req.Index - 1
	if start < 0 {
		start = 0
	}
	if start > len(hits) {
		start = len(hits)
	}
	hits = hits[start:]
	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if len(hits) > size {
		hits = hits[:size]
	}

	e.log.Debug("local query evaluated",
		logx.String("user", id.UserID),
		logx.Int64("hits", total),
		logx.Int("page", len(hits)))
	return &Response{Results: hits, Hits: total}, nil
}
