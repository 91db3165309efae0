package models

import (
	"fmt"
	"strings"
)

type MatchStatus string

const (
	MatchStatusPending           MatchStatus = "PENDING"
	MatchStatusConfirmed         MatchStatus = "CONFIRMED"
	MatchStatusAcceptedByCarrier MatchStatus = "ACCEPTED_BY_CARRIER"
	MatchStatusAcceptedBySender  MatchStatus = "ACCEPTED_BY_SENDER"
	MatchStatusInProgress        MatchStatus = "IN_PROGRESS"
	MatchStatusAwaitingTransfer  MatchStatus = "AWAITING_TRANSFER"
	MatchStatusCompleted         MatchStatus = "COMPLETED"
	MatchStatusCancelled         MatchStatus = "CANCELLED"
)

// AllMatchStatuses lists every match status. PackageStatusFor must handle each of them.
func AllMatchStatuses() []MatchStatus {
	return []MatchStatus{
		MatchStatusPending,
		MatchStatusConfirmed,
		MatchStatusAcceptedByCarrier,
		MatchStatusAcceptedBySender,
		MatchStatusInProgress,
		MatchStatusAwaitingTransfer,
		MatchStatusCompleted,
		MatchStatusCancelled,
	}
}

func (s MatchStatus) IsValid() bool {
	for _, v := range AllMatchStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the match currently holds the package.
// At most one match per package may be active.
func (s MatchStatus) IsActive() bool {
	switch s {
	case MatchStatusConfirmed, MatchStatusInProgress, MatchStatusAcceptedBySender, MatchStatusAcceptedByCarrier:
		return true
	}
	return false
}

func (s MatchStatus) IsClosed() bool {
	return s == MatchStatusCompleted || s == MatchStatusCancelled
}

// Advanceable reports whether a carrier may move the match to another delivery status.
func (s MatchStatus) Advanceable() bool {
	switch s {
	case MatchStatusPending, MatchStatusConfirmed, MatchStatusAcceptedBySender,
		MatchStatusAcceptedByCarrier, MatchStatusInProgress:
		return true
	}
	return false
}

// ParseStatusUpdate parses a carrier supplied target status.
// IN_TRANSIT and DELIVERED are accepted as package vocabulary aliases.
func ParseStatusUpdate(raw string) (MatchStatus, error) {
	v := MatchStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch v {
	case "IN_TRANSIT":
		v = MatchStatusInProgress
	case "DELIVERED":
		v = MatchStatusCompleted
	}
	switch v {
	case MatchStatusAcceptedByCarrier, MatchStatusInProgress, MatchStatusCompleted, MatchStatusCancelled:
		return v, nil
	}
	return "", fmt.Errorf("status %q is not a valid delivery status", raw)
}

type PackageStatus string

const (
	PackageStatusPending           PackageStatus = "PENDING"
	PackageStatusConfirmed         PackageStatus = "CONFIRMED"
	PackageStatusAcceptedByCarrier PackageStatus = "ACCEPTED_BY_CARRIER"
	PackageStatusInTransit         PackageStatus = "IN_TRANSIT"
	PackageStatusAwaitingRelay     PackageStatus = "AWAITING_RELAY"
	PackageStatusRelayInProgress   PackageStatus = "RELAY_IN_PROGRESS"
	PackageStatusDelivered         PackageStatus = "DELIVERED"
	PackageStatusCancelled         PackageStatus = "CANCELLED"
)

func AllPackageStatuses() []PackageStatus {
	return []PackageStatus{
		PackageStatusPending,
		PackageStatusConfirmed,
		PackageStatusAcceptedByCarrier,
		PackageStatusInTransit,
		PackageStatusAwaitingRelay,
		PackageStatusRelayInProgress,
		PackageStatusDelivered,
		PackageStatusCancelled,
	}
}

func (s PackageStatus) IsValid() bool {
	for _, v := range AllPackageStatuses() {
		if v == s {
			return true
		}
	}
	return false
}

// IsClosed reports whether the package no longer accepts lifecycle changes.
func (s PackageStatus) IsClosed() bool {
	return s == PackageStatusDelivered || s == PackageStatusCancelled
}

// PackageStatusFor maps a match status onto the package vocabulary.
// relaySegment selects the RELAY_IN_PROGRESS/AWAITING_RELAY variants used while
// a handed-off segment is being picked up.
func PackageStatusFor(s MatchStatus, relaySegment bool) (PackageStatus, error) {
	switch s {
	case MatchStatusPending:
		if relaySegment {
			return PackageStatusAwaitingRelay, nil
		}
		return PackageStatusPending, nil
	case MatchStatusConfirmed, MatchStatusAcceptedBySender:
		if relaySegment {
			return PackageStatusRelayInProgress, nil
		}
		return PackageStatusConfirmed, nil
	case MatchStatusAcceptedByCarrier:
		if relaySegment {
			return PackageStatusRelayInProgress, nil
		}
		return PackageStatusAcceptedByCarrier, nil
	case MatchStatusInProgress:
		return PackageStatusInTransit, nil
	case MatchStatusAwaitingTransfer:
		return PackageStatusAwaitingRelay, nil
	case MatchStatusCompleted:
		return PackageStatusDelivered, nil
	case MatchStatusCancelled:
		return PackageStatusPending, nil
	}
	return "", fmt.Errorf("no package status mapping for match status %q", s)
}
