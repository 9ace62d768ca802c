// Package searchcache answers package searches offline from previously cached
// remote search results.
package searchcache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"stevedore/internal/store"
	"stevedore/pkg/manager"
)

const defaultLimit = 50

// document is what gets indexed for one search result.
type document struct {
	Name        string `json:"name"`
	NameExact   string `json:"name_exact"`
	Version     string `json:"version"`
	Description string `json:"description"`
	Source      string `json:"source"`
}

// Index is an in-memory full-text index over search results.
type Index struct {
	mu    sync.RWMutex
	index bleve.Index
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = keyword.Name

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("name_exact", exact)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("source", exact)
	doc.AddFieldMappingsAt("version", stored)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = standard.Name
	return m
}

// New creates an empty index.
func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &Index{index: idx}, nil
}

// Build creates an index holding every result of the given cache entries.
func Build(entries []store.SearchEntry) (*Index, error) {
	idx, err := New()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if err := idx.Add(entry.Manager, entry.Results); err != nil {
			idx.Close()
			return nil, err
		}
	}
	return idx, nil
}

func docID(source manager.ID, name string) string {
	return string(source) + "/" + name
}

// Add indexes results. A result whose Source is empty is attributed to id.
// Re-adding a package replaces the earlier document.
func (i *Index) Add(id manager.ID, results []manager.SearchResult) error {
	if len(results) == 0 {
		return nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	for _, r := range results {
		source := r.Source
		if source == "" {
			source = id
		}
		doc := document{
			Name:        r.Name,
			NameExact:   strings.ToLower(r.Name),
			Version:     r.Version,
			Description: r.Description,
			Source:      string(source),
		}
		if err := batch.Index(docID(source, r.Name), doc); err != nil {
			return fmt.Errorf("failed to index %s: %w", r.Name, err)
		}
	}
	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to index search results: %w", err)
	}
	return nil
}

// Len returns the number of indexed packages.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	n, err := i.index.DocCount()
	if err != nil {
		return 0
	}
	return int(n)
}

func buildQuery(text string, sources []manager.ID) query.Query {
	text = strings.TrimSpace(text)

	var match query.Query
	if text == "" {
		match = bleve.NewMatchAllQuery()
	} else {
		exact := bleve.NewTermQuery(strings.ToLower(text))
		exact.SetField("name_exact")
		exact.SetBoost(10)

		prefix := bleve.NewPrefixQuery(strings.ToLower(text))
		prefix.SetField("name_exact")
		prefix.SetBoost(4)

		name := bleve.NewMatchQuery(text)
		name.SetField("name")
		name.SetBoost(2)

		desc := bleve.NewMatchQuery(text)
		desc.SetField("description")

		match = bleve.NewDisjunctionQuery(exact, prefix, name, desc)
	}

	if len(sources) == 0 {
		return match
	}

	var filters []query.Query
	for _, s := range sources {
		tq := bleve.NewTermQuery(string(s))
		tq.SetField("source")
		filters = append(filters, tq)
	}
	return bleve.NewConjunctionQuery(match, bleve.NewDisjunctionQuery(filters...))
}

// Search returns the best matches for text, optionally restricted to some
// managers. limit <= 0 uses a default.
func (i *Index) Search(text string, limit int, sources ...manager.ID) ([]manager.SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	req := bleve.NewSearchRequestOptions(buildQuery(text, sources), limit, 0, false)
	req.Fields = []string{"name", "version", "description", "source"}

	i.mu.RLock()
	res, err := i.index.Search(req)
	i.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]manager.SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		name, _ := hit.Fields["name"].(string)
		version, _ := hit.Fields["version"].(string)
		description, _ := hit.Fields["description"].(string)
		source, _ := hit.Fields["source"].(string)
		out = append(out, manager.SearchResult{
			Name:        name,
			Version:     version,
			Description: description,
			Source:      manager.ID(source),
		})
	}
	return out, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.index.Close()
}
