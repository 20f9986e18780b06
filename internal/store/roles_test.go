package store

import "testing"

func TestAllows(t *testing.T) {
	cases := []struct {
		role       string
		capability string
		allowed    bool
	}{
		{"server", CapQueryAvailability, true},
		{"server", CapCreateReservation, true},
		{"server", CapListDishes, true},
		{"server", CapPlaceOrder, true},
		{"server", CapViewReservation, true},
		{"server", CapListAssignments, false},
		{"server", CapAssignServer, false},
		{"server", CapFinalizeBill, false},
		{"manager", CapQueryAvailability, true},
		{"manager", CapPlaceOrder, true},
		{"manager", CapListAssignments, true},
		{"manager", CapAssignServer, true},
		{"manager", CapFinalizeBill, true},
		{"manager", "unknown", false},
		{"", CapPlaceOrder, false},
		{"cook", CapPlaceOrder, false},
	}

	for _, tt := range cases {
		if got := Allows(tt.role, tt.capability); got != tt.allowed {
			t.Fatalf("Allows(%q, %q)=%v, want %v", tt.role, tt.capability, got, tt.allowed)
		}
	}
}
