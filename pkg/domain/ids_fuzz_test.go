package domain

import (
	"testing"
)

// FuzzParseSessionID checks that parsing never panics and that accepted ids
// round-trip.
func FuzzParseSessionID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSessionID(input)
		if err != nil {
			return
		}
		if id.IsNil() {
			t.Fatal("nil session id accepted")
		}
		roundTrip, err := ParseSessionID(id.String())
		if err != nil {
			t.Fatalf("valid id failed round-trip: %v", err)
		}
		if roundTrip != id {
			t.Fatal("round-trip changed id value")
		}
	})
}
