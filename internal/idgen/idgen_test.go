package idgen

import "testing"

func TestHex_ProducesUnhyphenatedLowercase32Chars(t *testing.T) {
	id := New()
	hex := Hex(id)
	if len(hex) != 32 {
		t.Fatalf("expected a 32-character hex string, got %d chars: %q", len(hex), hex)
	}
	for _, c := range hex {
		if c == '-' {
			t.Fatalf("expected no hyphens in hex id, got %q", hex)
		}
	}
}

func TestParseHex_RoundTripsWithHex(t *testing.T) {
	id := New()
	parsed, err := ParseHex(Hex(id), "id")
	if err != nil {
		t.Fatalf("failed to parse hex id: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected round-tripped id %s, got %s", id, parsed)
	}
}

func TestParseHex_AcceptsHyphenatedForm(t *testing.T) {
	id := New()
	parsed, err := ParseHex(id.String(), "id")
	if err != nil {
		t.Fatalf("failed to parse hyphenated id: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected round-tripped id %s, got %s", id, parsed)
	}
}

func TestParseHex_RejectsInvalidInput(t *testing.T) {
	if _, err := ParseHex("not-a-uuid", "id"); err == nil {
		t.Fatalf("expected an error for malformed input")
	}
}

func TestNew_ProducesTimeOrderedIDs(t *testing.T) {
	first := New()
	second := New()
	if Hex(first) >= Hex(second) {
		t.Fatalf("expected successive UUIDv7 ids to sort in generation order, got %s then %s", Hex(first), Hex(second))
	}
}

func TestBytesToHex_RejectsWrongLength(t *testing.T) {
	if _, err := BytesToHex([]byte{1, 2, 3}, "id"); err == nil {
		t.Fatalf("expected an error for a non-16-byte input")
	}
}

func TestBytesToHex_RoundTripsWithID(t *testing.T) {
	id := New()
	b, err := id.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal id to bytes: %v", err)
	}
	hex, err := BytesToHex(b, "id")
	if err != nil {
		t.Fatalf("failed to convert bytes to hex: %v", err)
	}
	if hex != Hex(id) {
		t.Fatalf("expected %s, got %s", Hex(id), hex)
	}
}
