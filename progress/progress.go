// Package progress renders a terminal progress bar for the bulk mbox
// import. The bar is only shown at the default info log level so debug
// runs keep clean line-oriented output.
package progress

import (
	"sync"

	"github.com/pterm/pterm"
)

// Bar tracks import progress across one mbox file.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar if logLevel is "info".
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{total: total, enabled: enabled}
	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Importing messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in mbox: %d\n", total)
		pterm.Println()
	}
	return bar
}

// Increment advances the bar by one message and shows its id in the title.
func (b *Bar) Increment(messageID string) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pb.Increment()
	if messageID != "" {
		displayID := messageID
		if len(displayID) > 40 {
			displayID = displayID[:37] + "..."
		}
		b.pb.UpdateTitle("Importing: " + displayID)
	}
}

// Error prints an error above the progress bar.
func (b *Bar) Error(err error) {
	if !b.enabled {
		return
	}
	pterm.Error.Printf("Error: %v\n", err)
}

// Stop finalizes the bar and prints the import totals.
func (b *Bar) Stop(uploaded, skipped, failed int) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()

	pterm.Println()
	pterm.Success.Printf("Import complete: %d uploaded, %d skipped, %d failed\n", uploaded, skipped, failed)
}
