package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stevedore/internal/searchcache"
	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

var (
	searchLimit  int
	searchCached bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search for packages",
	Long: `Search every installed manager that supports search, in
parallel. Results are cached; --cached searches that cache offline
with relevance ranking instead of asking the managers.

Examples:
  stevedore search ripgrep           # Ask every manager
  stevedore search ripgrep -m cargo  # Ask cargo only
  stevedore search --cached grep     # Search earlier results offline`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 0, "limit results per manager (0 = manager default)")
	searchCmd.Flags().BoolVar(&searchCached, "cached", false, "search cached results instead of the managers")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := args[0]

	a, err := getApp(ctx)
	if err != nil {
		return err
	}

	var results []manager.SearchResult
	if searchCached {
		results, err = a.searchCached(query, searchLimit)
	} else {
		ui.InfoMsg("Searching for '%s'...", query)
		results, err = a.searchLive(ctx, query, searchLimit)
	}
	if err != nil {
		return err
	}

	ui.PrintSearchResults(os.Stdout, results)
	return nil
}

// searchLive sends the query to the selected managers.
func (a *app) searchLive(ctx context.Context, query string, limit int) ([]manager.SearchResult, error) {
	ids, err := a.targetManagers(manager.ActionSearch)
	if err != nil {
		return nil, err
	}

	req := manager.SearchRequest(query)
	req.Query.Limit = limit

	var results []manager.SearchResult
	fanned, err := a.fanOut(ctx, ids, req)
	for _, r := range fanned {
		if r.Err != nil {
			ui.WarningMsg("%v", r.Err)
			continue
		}
		results = append(results, r.Response.Results...)
	}
	return results, err
}

// searchCached ranks earlier search results with the offline index.
func (a *app) searchCached(query string, limit int) ([]manager.SearchResult, error) {
	entries, err := a.local.SearchEntries()
	if err != nil {
		return nil, err
	}
	idx, err := searchcache.Build(entries)
	if err != nil {
		return nil, err
	}
	defer idx.Close()

	var sources []manager.ID
	if managerFlag != "" {
		id, err := a.resolveManager(managerFlag)
		if err != nil {
			return nil, err
		}
		sources = append(sources, id)
	}
	return idx.Search(query, limit, sources...)
}

// exactMatches returns the results named name, ignoring case, in order.
func exactMatches(results []manager.SearchResult, name string) []manager.SearchResult {
	var out []manager.SearchResult
	seen := make(map[manager.ID]bool)
	for _, r := range results {
		if strings.EqualFold(r.Name, name) && !seen[r.Source] {
			seen[r.Source] = true
			out = append(out, r)
		}
	}
	return out
}
