package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"stevedore/internal/orchestrator"
	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// Table wraps tabwriter for consistent styling.
type Table struct {
	writer  *tabwriter.Writer
	headers []string
}

// NewTable creates a new table writing to stdout.
func NewTable(header []string) *Table {
	return NewTableWriter(os.Stdout, header)
}

// NewTableWriter creates a new table that writes to a specific writer.
func NewTableWriter(w io.Writer, header []string) *Table {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	t := &Table{
		writer:  tw,
		headers: header,
	}
	if len(header) > 0 {
		row := make([]string, len(header))
		for i, h := range header {
			row[i] = Bold(strings.ToUpper(h))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return t
}

// AddRow adds a row to the table.
func (t *Table) AddRow(row ...string) {
	fmt.Fprintln(t.writer, strings.Join(row, "\t"))
}

// Render flushes the table.
func (t *Table) Render() {
	t.writer.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func source(id manager.ID) string {
	return PackageSource.Sprint("[" + string(id) + "]")
}

// PrintManagers prints registered managers with their cached detection.
func PrintManagers(w io.Writer, descs []manager.Descriptor, detections map[manager.ID]manager.DetectionInfo) {
	t := NewTableWriter(w, []string{"manager", "authority", "category", "status", "version"})
	for _, d := range descs {
		status, version := NotInstalled.Sprint("unknown"), ""
		if info, ok := detections[d.ID]; ok {
			if info.Installed {
				status, version = Installed.Sprint("installed"), info.Version
			} else {
				status = NotInstalled.Sprint("not installed")
			}
		}
		t.AddRow(PackageName.Sprint(string(d.ID)), string(d.Authority), string(d.Category), status, version)
	}
	t.Render()
}

// PrintPackages prints installed packages.
func PrintPackages(w io.Writer, packages []manager.Package) {
	if len(packages) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No packages found"))
		return
	}

	t := NewTableWriter(w, []string{"source", "name", "version"})
	for _, pkg := range packages {
		name := PackageName.Sprint(pkg.Name)
		if pkg.Pinned {
			name += " " + Pinned.Sprint("[pinned]")
		}
		t.AddRow(source(pkg.Source), name, PackageVersion.Sprint(pkg.Version))
	}
	t.Render()
}

// PrintOutdated prints packages with a newer candidate.
func PrintOutdated(w io.Writer, packages []manager.OutdatedPackage) {
	if len(packages) == 0 {
		fmt.Fprintln(w, Muted.Sprint("Everything is up to date"))
		return
	}

	t := NewTableWriter(w, []string{"source", "name", "installed", "candidate"})
	for _, pkg := range packages {
		name := PackageName.Sprint(pkg.Name)
		if pkg.Pinned {
			name += " " + Pinned.Sprint("[pinned]")
		}
		t.AddRow(source(pkg.Source), name, pkg.InstalledVersion, PackageVersion.Sprint(pkg.CandidateVersion))
	}
	t.Render()
}

// PrintSearchResults prints search results grouped by manager, managers in
// name order, hits in the order given.
func PrintSearchResults(w io.Writer, results []manager.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No packages found"))
		return
	}

	grouped := make(map[manager.ID][]manager.SearchResult)
	var sources []manager.ID
	for _, r := range results {
		if _, seen := grouped[r.Source]; !seen {
			sources = append(sources, r.Source)
		}
		grouped[r.Source] = append(grouped[r.Source], r)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	fmt.Fprintln(w, Header.Sprintf("Found %d results across %d managers", len(results), len(sources)))

	for _, src := range sources {
		hits := grouped[src]
		fmt.Fprintf(w, "\n%s (%d):\n", source(src), len(hits))
		for _, r := range hits {
			version := ""
			if r.Version != "" {
				version = " " + PackageVersion.Sprint(r.Version)
			}
			fmt.Fprintf(w, "  %s%s\n", PackageName.Sprint(r.Name), version)
			if r.Description != "" {
				fmt.Fprintln(w, Muted.Sprint("    "+truncate(r.Description, 70)))
			}
		}
	}
}

// PrintSnapshots prints live queue state.
func PrintSnapshots(w io.Writer, snaps []taskqueue.Snapshot) {
	t := NewTableWriter(w, []string{"id", "manager", "kind", "status", "error"})
	for _, s := range snaps {
		t.AddRow(s.ID.String(), string(s.Manager), string(s.Kind), Status(string(s.Status)), truncate(s.Error, 60))
	}
	t.Render()
}

// PrintTasks prints persisted task records.
func PrintTasks(w io.Writer, records []store.TaskRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, Muted.Sprint("No tasks recorded"))
		return
	}

	t := NewTableWriter(w, []string{"id", "manager", "kind", "status", "updated", "error"})
	for _, r := range records {
		t.AddRow(
			r.ID.String(),
			string(r.Manager),
			string(r.Kind),
			Status(string(r.Status)),
			r.UpdatedAt.Local().Format(time.DateTime),
			truncate(r.Error, 60),
		)
	}
	t.Render()
}

// PrintBulkResult prints one line per manager and a summary.
func PrintBulkResult(w io.Writer, res orchestrator.BulkResult) {
	t := NewTableWriter(w, []string{"manager", "authority", "result", "installed", "outdated"})
	for _, m := range res.Results {
		var result string
		switch {
		case !m.OK():
			result = Error.Sprint(SymbolError+" ") + truncate(m.Err.Error(), 60)
		case m.Detection != nil && !m.Detection.Installed:
			result = NotInstalled.Sprint("not installed")
		default:
			result = Success.Sprint(SymbolSuccess)
		}
		installed, outdated := "", ""
		if m.Installed != nil {
			installed = fmt.Sprint(len(m.Installed))
		}
		if m.Outdated != nil {
			outdated = fmt.Sprint(len(m.Outdated))
		}
		t.AddRow(PackageName.Sprint(string(m.Manager)), string(m.Authority), result, installed, outdated)
	}
	t.Render()

	failed := len(res.Failed())
	summary := fmt.Sprintf("%d managers, %d failed (run %s)", len(res.Results), failed, res.RunID)
	if failed > 0 {
		fmt.Fprintln(w, Warning.Sprint(summary))
	} else {
		fmt.Fprintln(w, Muted.Sprint(summary))
	}
}

// PrintSystemInfo prints host platform details.
func PrintSystemInfo(w io.Writer, prettyName, arch string, managers []manager.ID) {
	printField(w, "Operating System", prettyName)
	printField(w, "Architecture", arch)
	if len(managers) > 0 {
		names := make([]string, len(managers))
		for i, id := range managers {
			names[i] = string(id)
		}
		printField(w, "Registered Managers", strings.Join(names, ", "))
	}
}

// printField prints a single field with formatting.
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s: %s\n", Cyan(label), value)
}
