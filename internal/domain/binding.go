package domain

import "time"

type OwnerRole string

const (
	RoleClient  OwnerRole = "client"
	RoleCarrier OwnerRole = "carrier"
)

type ResourceKind string

const (
	KindRequests ResourceKind = "requests"
	KindFleet    ResourceKind = "fleet"
	KindTrips    ResourceKind = "trips"
)

// Status is the binding lifecycle state. Creating and Syncing are transient;
// a reaper or the next reconciliation forces them back to a terminal state.
type Status string

const (
	StatusNone     Status = "none"
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
	StatusSyncing  Status = "syncing"
)

var transitions = map[Status][]Status{
	StatusNone:     {StatusCreating},
	StatusCreating: {StatusReady, StatusFailed},
	StatusReady:    {StatusSyncing, StatusCreating, StatusFailed},
	StatusSyncing:  {StatusReady, StatusFailed, StatusCreating},
	StatusFailed:   {StatusCreating},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Binding links an owner acting in a role to one external spreadsheet of a
// given kind. Unique on (OwnerID, OwnerRole, Kind). ExternalID and ExternalURL
// are both nil until the sheet exists, then both set.
type Binding struct {
	ID        int64
	OwnerID   int64
	OwnerRole OwnerRole
	Kind      ResourceKind

	ExternalID  *string
	ExternalURL *string
	Status      Status

	LastKnownRevision *string
	LastKnownModified *time.Time
	LastKnownEditor   *string

	LastSyncedRevision *string
	LastSyncedAt       *time.Time

	Timestamps
}

// HasHandle reports whether the binding points at an external sheet.
func (b *Binding) HasHandle() bool {
	return b.ExternalID != nil && b.ExternalURL != nil
}

// NeedsSync reports whether the sheet has edits we have not reacted to yet.
func (b *Binding) NeedsSync() bool {
	if b.Status != StatusReady {
		return false
	}
	if b.LastSyncedRevision == nil {
		return true
	}
	return b.LastKnownRevision == nil || *b.LastSyncedRevision != *b.LastKnownRevision
}

func ParseRole(s string) (OwnerRole, bool) {
	switch OwnerRole(s) {
	case RoleClient, RoleCarrier:
		return OwnerRole(s), true
	}
	return "", false
}

func ParseKind(s string) (ResourceKind, bool) {
	switch ResourceKind(s) {
	case KindRequests, KindFleet, KindTrips:
		return ResourceKind(s), true
	}
	return "", false
}

// Kinds lists every resource kind, in scan order.
func Kinds() []ResourceKind {
	return []ResourceKind{KindRequests, KindFleet, KindTrips}
}
