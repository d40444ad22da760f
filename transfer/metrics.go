package transfer

import "time"

// Metrics records transfer activity. A nil Metrics disables recording.
type Metrics interface {
	// ObservePage records one published page and the bytes copied into it
	ObservePage(mode string, bytes int)
	// ObserveTransfer records a finished transfer, successful or not
	ObserveTransfer(mode string, pages int, duration time.Duration, err error)
}

// ObservePage records a published page if m is set
func ObservePage(m Metrics, mode string, bytes int) {
	if m != nil {
		m.ObservePage(mode, bytes)
	}
}

// ObserveTransfer records a finished transfer if m is set
func ObserveTransfer(m Metrics, mode string, pages int, duration time.Duration, err error) {
	if m != nil {
		m.ObserveTransfer(mode, pages, duration, err)
	}
}
