package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIssuance means the metadata lists no usable issuance.
	ErrNoIssuance = errors.New("no issuance available")

	// ErrLeadNotPublished means the latest issuance does not cover the requested lead.
	ErrLeadNotPublished = errors.New("lead time not published for latest issuance")
)

// SlotResolutionError reports that no time slot could be resolved for a lead.
// Callers skip the lead for the current cycle and retry on the next one.
type SlotResolutionError struct {
	LeadMinutes int
	Err         error
}

func (e *SlotResolutionError) Error() string {
	return fmt.Sprintf("resolve slot for lead %dm: %v", e.LeadMinutes, e.Err)
}

func (e *SlotResolutionError) Unwrap() error { return e.Err }

// TileNotFoundError reports that every candidate URL for a tile failed.
type TileNotFoundError struct {
	Coord    TileCoord
	Slot     TimeSlot
	Attempts int
	Err      error // last candidate failure
}

func (e *TileNotFoundError) Error() string {
	return fmt.Sprintf("tile z%d/%d/%d valid %s not found after %d attempts: %v",
		e.Coord.Zoom, e.Coord.X, e.Coord.Y, e.Slot.ValidTime.UTC().Format(timeLayout), e.Attempts, e.Err)
}

func (e *TileNotFoundError) Unwrap() error { return e.Err }

// DecodeError reports a malformed or unsupported tile payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode tile: %v", e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// NotifierError reports a failed delivery to the notifier sink.
type NotifierError struct {
	Kind string // "alert" or "heartbeat"
	Err  error
}

func (e *NotifierError) Error() string { return fmt.Sprintf("notify %s: %v", e.Kind, e.Err) }

func (e *NotifierError) Unwrap() error { return e.Err }
