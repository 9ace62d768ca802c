package ui

import (
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
)

// Spinner wraps the spinner library for consistent styling.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	charSet := spinner.CharSets[14] // ⣾⣽⣻⢿⡿⣟⣯⣷
	if !UseUnicode {
		charSet = spinner.CharSets[0] // |/-\
	}

	s := spinner.New(charSet, 100*time.Millisecond)
	s.Suffix = " " + message

	if UseColors {
		s.Color("cyan")
	}

	return &Spinner{s: s}
}

// Start starts the spinner.
func (sp *Spinner) Start() {
	sp.s.Start()
}

// Stop stops the spinner.
func (sp *Spinner) Stop() {
	sp.s.Stop()
}

// Success stops the spinner with a success message.
func (sp *Spinner) Success(message string) {
	sp.s.Stop()
	SuccessMsg("%s", message)
}

// Error stops the spinner with an error message.
func (sp *Spinner) Error(message string) {
	sp.s.Stop()
	ErrorMsg("%s", message)
}

// UpdateMessage updates the spinner message.
func (sp *Spinner) UpdateMessage(message string) {
	sp.s.Lock()
	sp.s.Suffix = " " + message
	sp.s.Unlock()
}

// WithSpinner runs a function with a spinner, showing success or error on
// completion. The spinner is skipped when stdout is not a terminal.
func WithSpinner(message string, fn func() error) error {
	if !isTerminal() {
		err := fn()
		if err != nil {
			ErrorMsg("%s", err.Error())
		}
		return err
	}

	sp := NewSpinner(message)
	sp.Start()

	err := fn()

	if err != nil {
		sp.Error(err.Error())
		return err
	}

	sp.Success(message + " - done")
	return nil
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WithProgress is WithSpinner with a suffix refreshed from status every
// interval while fn runs.
func WithProgress(message string, interval time.Duration, status func() string, fn func() error) error {
	if !isTerminal() {
		return WithSpinner(message, fn)
	}

	sp := NewSpinner(message)
	sp.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				sp.UpdateMessage(status())
			}
		}
	}()

	err := fn()
	close(stop)
	wg.Wait()

	if err != nil {
		sp.Error(err.Error())
		return err
	}
	sp.Success(message + " - done")
	return nil
}
