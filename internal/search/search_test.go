package search

import (
	"context"
	"testing"

	"searchwatch/internal/store"
	"searchwatch/pkg/logx"
)

func TestParseFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"simple clause", `title like "ship"`, false},
		{"conjunction", `title like "ship" AND type = "vessel"`, false},
		{"parenthesized", `(title like "ship")`, false},
		{"empty", "   ", true},
		{"unbalanced paren", `(title like "ship"`, true},
		{"stray close", `title like "ship")`, true},
		{"unterminated quote", `title like "ship`, true},
		{"paren inside quotes ok", `title like "(unclosed"`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseFilter(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFilter(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestParseSortOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want SortOrder
	}{
		{"ascending", Ascending},
		{"DESCENDING", Descending},
		{"", Ascending},
		{"sideways", Ascending},
	}
	for _, tt := range tests {
		if got := ParseSortOrder(tt.in); got != tt.want {
			t.Errorf("ParseSortOrder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func seededEngine(t *testing.T) *LocalEngine {
	t.Helper()
	eng := NewLocalEngine(store.NewMemory(), logx.Nop())
	ctx := context.Background()
	entries := []Result{
		{ID: "e1", Title: "Cargo Ship Alpha", Relevance: 0.9, Attributes: map[string]any{"type": "vessel"}},
		{ID: "e2", Title: "Fishing Boat", Relevance: 0.5, Attributes: map[string]any{"type": "vessel"}},
		{ID: "e3", Title: "Lighthouse", Relevance: 0.2, Attributes: map[string]any{"type": "structure"}},
	}
	for _, r := range entries {
		if err := eng.Index(ctx, r); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}
	return eng
}

func TestLocalEngineQuery(t *testing.T) {
	t.Parallel()

	eng := seededEngine(t)
	ctx := context.Background()
	id := SystemIdentity("alice")

	query := func(expr string, sort SortOrder) *Response {
		t.Helper()
		f, err := ParseFilter(expr)
		if err != nil {
			t.Fatalf("ParseFilter: %v", err)
		}
		resp, err := eng.Query(ctx, id, Request{Filter: f, Sort: sort, PageSize: 10, Index: 1})
		if err != nil {
			t.Fatalf("Query(%q): %v", expr, err)
		}
		return resp
	}

	t.Run("like match", func(t *testing.T) {
		resp := query(`title like "ship"`, Ascending)
		if resp.Hits != 1 || resp.Results[0].ID != "e1" {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("attribute equality", func(t *testing.T) {
		resp := query(`type = "vessel"`, Ascending)
		if resp.Hits != 2 {
			t.Fatalf("hits = %d", resp.Hits)
		}
	})

	t.Run("conjunction", func(t *testing.T) {
		resp := query(`type = "vessel" AND title like "boat"`, Ascending)
		if resp.Hits != 1 || resp.Results[0].ID != "e2" {
			t.Fatalf("resp = %+v", resp)
		}
	})

	t.Run("descending relevance", func(t *testing.T) {
		resp := query(`type = "vessel"`, Descending)
		if resp.Results[0].ID != "e1" {
			t.Fatalf("order = %v", resp.Results)
		}
	})

	t.Run("no match", func(t *testing.T) {
		resp := query(`title like "submarine"`, Ascending)
		if resp.Hits != 0 {
			t.Fatalf("hits = %d", resp.Hits)
		}
	})

	t.Run("unsupported operator", func(t *testing.T) {
		f, err := ParseFilter(`title near "ship"`)
		if err != nil {
			t.Fatalf("ParseFilter: %v", err)
		}
		if _, err := eng.Query(ctx, id, Request{Filter: f, PageSize: 10, Index: 1}); err == nil {
			t.Fatal("want error for unsupported operator")
		}
	})
}

func TestLocalEnginePaging(t *testing.T) {
	t.Parallel()

	eng := NewLocalEngine(store.NewMemory(), logx.Nop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := eng.Index(ctx, Result{
			ID:        string(rune('a' + i)),
			Title:     "entry",
			Relevance: float64(i),
		}); err != nil {
			t.Fatalf("Index: %v", err)
		}
	}
	f, _ := ParseFilter(`title = "entry"`)

	resp, err := eng.Query(ctx, SystemIdentity("alice"), Request{Filter: f, PageSize: 2, Index: 3})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if resp.Hits != 5 || len(resp.Results) != 2 {
		t.Fatalf("hits = %d, page = %d", resp.Hits, len(resp.Results))
	}
}
