package ui

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"

	"stevedore/pkg/manager"
)

// Confirm prompts the user for yes/no confirmation.
func Confirm(prompt string, defaultYes bool) (bool, error) {
	label := prompt
	if defaultYes {
		label += " [Y/n]"
	} else {
		label += " [y/N]"
	}

	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
		Default:   "",
	}

	if defaultYes {
		p.Default = "y"
	}

	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, err
		}
		return defaultYes, nil // Return default on error
	}

	result = strings.ToLower(strings.TrimSpace(result))
	if result == "" {
		return defaultYes, nil
	}

	return result == "y" || result == "yes", nil
}

// SelectResult prompts the user to pick one search hit when a package name
// is offered by several managers.
func SelectResult(results []manager.SearchResult, prompt string) (*manager.SearchResult, error) {
	if len(results) == 0 {
		return nil, errors.New("no packages to select from")
	}

	if len(results) == 1 {
		return &results[0], nil
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Name | cyan }} {{ .Version | green }} [{{ .Source | magenta }}]",
		Inactive: "  {{ .Name }} {{ .Version | faint }} [{{ .Source | faint }}]",
		Selected: "✓ {{ .Name | cyan }} [{{ .Source | magenta }}]",
		Details: `
--------- Package ----------
{{ "Name:" | faint }}	{{ .Name }}
{{ "Version:" | faint }}	{{ .Version }}
{{ "Manager:" | faint }}	{{ .Source }}
{{ "Description:" | faint }}	{{ .Description }}`,
	}

	searcher := func(input string, index int) bool {
		r := results[index]
		input = strings.ToLower(input)
		return strings.Contains(strings.ToLower(r.Name), input) ||
			strings.Contains(strings.ToLower(string(r.Source)), input)
	}

	p := promptui.Select{
		Label:     prompt,
		Items:     results,
		Templates: templates,
		Size:      10,
		Searcher:  searcher,
	}

	index, _, err := p.Run()
	if err != nil {
		return nil, err
	}

	return &results[index], nil
}
