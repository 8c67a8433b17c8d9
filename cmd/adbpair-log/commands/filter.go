package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/adbautoenable/adbpair-go/pkg/log"
)

// FilterOptions holds the textual filter flags shared by view and filter.
type FilterOptions struct {
	ConnID     string
	RemoteAddr string
	PeerID     string
	TimeStart  string
	TimeEnd    string
	Layer      string
	Direction  string
	Category   string
}

// Build parses the options into a ViewFilter.
func (o FilterOptions) Build() (ViewFilter, error) {
	filter := ViewFilter{Filter: log.Filter{
		ConnectionID: o.ConnID,
		RemoteAddr:   o.RemoteAddr,
		PeerID:       o.PeerID,
	}}

	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return ViewFilter{}, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return ViewFilter{}, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return ViewFilter{}, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return ViewFilter{}, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return ViewFilter{}, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies the matching events in path to a new capture file and
// returns how many were written.
func RunFilter(path, output string, filter ViewFilter) (int, error) {
	reader, err := log.NewFilteredReader(path, filter.Filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		if filter.Direction != nil && (event.Packet == nil || event.Direction != *filter.Direction) {
			continue
		}
		logger.Log(event)
		count++
	}

	if err := logger.Close(); err != nil {
		return count, fmt.Errorf("failed to close output: %w", err)
	}
	if n := logger.Dropped(); n > 0 {
		return count - n, fmt.Errorf("%d events could not be written", n)
	}
	return count, nil
}
