package searchcache

import (
	"testing"

	"stevedore/internal/store"
	"stevedore/pkg/manager"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Build([]store.SearchEntry{
		{
			Manager: manager.Npm,
			Query:   "lodash",
			Results: []manager.SearchResult{
				{Name: "lodash", Version: "4.17.21", Description: "Lodash modular utilities."},
				{Name: "lodash-es", Version: "4.17.21", Description: "Lodash exported as ES modules."},
			},
		},
		{
			Manager: manager.Pip,
			Query:   "http",
			Results: []manager.SearchResult{
				{Name: "requests", Version: "2.32.3", Description: "Python HTTP for Humans.", Source: manager.Pip},
				{Name: "httpx", Version: "0.27.0", Description: "The next generation HTTP client.", Source: manager.Pip},
			},
		},
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestBuildIndexesAllResults(t *testing.T) {
	idx := testIndex(t)
	if n := idx.Len(); n != 4 {
		t.Errorf("expected 4 documents, got %d", n)
	}
}

func TestSearchExactNameRanksFirst(t *testing.T) {
	idx := testIndex(t)

	results, err := idx.Search("lodash", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("expected at least 2 results, got %d", len(results))
	}
	if results[0].Name != "lodash" {
		t.Errorf("expected exact match first, got %q", results[0].Name)
	}
	if results[0].Source != manager.Npm || results[0].Version != "4.17.21" {
		t.Errorf("stored fields not returned: %+v", results[0])
	}
}

func TestSearchDescription(t *testing.T) {
	idx := testIndex(t)

	results, err := idx.Search("humans", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 || results[0].Name != "requests" {
		t.Errorf("expected requests, got %+v", results)
	}
}

func TestSearchFilterBySource(t *testing.T) {
	idx := testIndex(t)

	results, err := idx.Search("", 10, manager.Pip)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 pip results, got %d", len(results))
	}
	for _, r := range results {
		if r.Source != manager.Pip {
			t.Errorf("unexpected source %s", r.Source)
		}
	}
}

func TestAddReplacesDocument(t *testing.T) {
	idx := testIndex(t)

	err := idx.Add(manager.Npm, []manager.SearchResult{{Name: "lodash", Version: "5.0.0"}})
	if err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if n := idx.Len(); n != 4 {
		t.Errorf("re-adding should not grow the index, got %d", n)
	}
	results, _ := idx.Search("lodash", 1)
	if len(results) != 1 || results[0].Version != "5.0.0" {
		t.Errorf("expected updated version, got %+v", results)
	}
}

func TestSearchNoMatch(t *testing.T) {
	idx := testIndex(t)
	results, err := idx.Search("zzzz-not-there", 10)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}
