package hashid

import (
	"errors"
	"strings"
	"testing"
)

const testAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New(Options{Salt: "TestSalt", Alphabet: testAlphabet, MinLength: 6})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	for _, n := range []int{0, 1, 7, 42, 1000, 65535, 1 << 30} {
		token, err := c.Encode(n)
		if err != nil {
			t.Fatalf("Encode(%d) error = %v", n, err)
		}
		if len(token) < 6 {
			t.Errorf("Encode(%d) = %q, want length >= 6", n, token)
		}
		for _, r := range token {
			if !strings.ContainsRune(testAlphabet, r) {
				t.Errorf("Encode(%d) = %q contains %q outside alphabet", n, token, r)
			}
		}

		got, err := c.Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", token, err)
		}
		if got != n {
			t.Errorf("Decode(Encode(%d)) = %d", n, got)
		}
	}
}

func TestCodec_Deterministic(t *testing.T) {
	a := newTestCodec(t)
	b := newTestCodec(t)

	first, err := a.Encode(123)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	second, err := b.Encode(123)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	if first != second {
		t.Errorf("same configuration produced different tokens: %q vs %q", first, second)
	}
}

func TestCodec_DecodeRejectsInvalidTokens(t *testing.T) {
	c := newTestCodec(t)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"lowercase outside alphabet", "abcdef"},
		{"punctuation", "AB!CDE"},
		{"non canonical", "AAAAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.Decode(tt.token); !errors.Is(err, ErrDecode) {
				t.Errorf("Decode(%q) error = %v, want ErrDecode", tt.token, err)
			}
		})
	}
}

func TestCodec_EncodeRejectsNegative(t *testing.T) {
	c := newTestCodec(t)
	if _, err := c.Encode(-1); err == nil {
		t.Error("Encode(-1) expected error")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative min length", Options{Salt: "s", Alphabet: testAlphabet, MinLength: -1}},
		{"single char alphabet", Options{Salt: "s", Alphabet: "A", MinLength: 0}},
		{"duplicate characters", Options{Salt: "s", Alphabet: "ABCDEFGHIJKLMNOPA", MinLength: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Errorf("New(%+v) expected error", tt.opts)
			}
		})
	}
}
