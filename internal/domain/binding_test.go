package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusNone, StatusCreating, true},
		{StatusNone, StatusReady, false},
		{StatusCreating, StatusReady, true},
		{StatusCreating, StatusFailed, true},
		{StatusCreating, StatusSyncing, false},
		{StatusReady, StatusSyncing, true},
		{StatusReady, StatusCreating, true}, // recreate after the sheet vanished
		{StatusReady, StatusFailed, true},
		{StatusSyncing, StatusReady, true},
		{StatusSyncing, StatusFailed, true},
		{StatusSyncing, StatusCreating, true}, // reconciliation may force a stuck sync back
		{StatusFailed, StatusCreating, true},
		{StatusFailed, StatusReady, false},
		{StatusReady, StatusReady, true}, // self-transition carries field updates
	}
	for _, c := range cases {
		assert.Equalf(t, c.allowed, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func strp(s string) *string { return &s }

func TestNeedsSync(t *testing.T) {
	b := &Binding{Status: StatusCreating}
	assert.False(t, b.NeedsSync(), "non-ready bindings never need sync")

	b.Status = StatusReady
	assert.True(t, b.NeedsSync(), "never-synced ready binding needs sync")

	b.LastKnownRevision = strp("rev-2")
	assert.True(t, b.NeedsSync())

	b.LastSyncedRevision = strp("rev-2")
	assert.False(t, b.NeedsSync())

	b.LastKnownRevision = strp("rev-3")
	assert.True(t, b.NeedsSync(), "new external revision flips it back")
}

func TestHasHandle(t *testing.T) {
	b := &Binding{}
	assert.False(t, b.HasHandle())
	b.ExternalID = strp("x")
	assert.False(t, b.HasHandle(), "both fields must be set")
	b.ExternalURL = strp("https://sheets.example/x")
	assert.True(t, b.HasHandle())
}

func TestParseHelpers(t *testing.T) {
	role, ok := ParseRole("carrier")
	assert.True(t, ok)
	assert.Equal(t, RoleCarrier, role)
	_, ok = ParseRole("admin")
	assert.False(t, ok)

	kind, ok := ParseKind("fleet")
	assert.True(t, ok)
	assert.Equal(t, KindFleet, kind)
	_, ok = ParseKind("invoices")
	assert.False(t, ok)
}

func TestHeaderForTab(t *testing.T) {
	for _, kind := range Kinds() {
		assert.Equal(t, HeaderRow(kind), HeaderForTab(TabName(kind)))
	}
	assert.Nil(t, HeaderForTab("Інше"))
}
