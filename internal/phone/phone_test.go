package phone

import (
	"errors"
	"testing"
)

func TestNormalize_FrenchNational(t *testing.T) {
	t.Parallel()

	got, err := Normalize("06 12 34 56 78")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if got != "+33612345678" {
		t.Fatalf("expected +33612345678, got %s", got)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	first, err := Normalize("06.12.34.56.78")
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	second, err := Normalize(first)
	if err != nil {
		t.Fatalf("re-normalize returned error: %v", err)
	}
	if second != first {
		t.Fatalf("expected idempotent normalization: %s != %s", second, first)
	}
}

func TestNormalize_InternationalPrefixes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"+33612345678", "+33612345678"},
		{"0033612345678", "+33612345678"},
		{"+44 7700 900123", "+447700900123"},
		{"(06) 12-34-56-78", "+33612345678"},
	}
	for _, c := range cases {
		got, err := Normalize(c.in)
		if err != nil {
			t.Fatalf("Normalize(%q) returned error: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("Normalize(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestNormalize_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want error
	}{
		{"", ErrEmpty},
		{"   ", ErrEmpty},
		{"06 12 34", ErrBadLength},
		{"+3361234567890123", ErrBadLength},
		{"abc-def-ghij", ErrInvalidChars},
		{"+0612345678", ErrLeadingZero},
	}
	for _, c := range cases {
		_, err := Normalize(c.in)
		if err == nil {
			t.Fatalf("Normalize(%q): expected error, got nil", c.in)
		}
		if !errors.Is(err, c.want) {
			t.Fatalf("Normalize(%q): expected %v, got %v", c.in, c.want, err)
		}
	}
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	if !IsValid("+33612345678") {
		t.Fatalf("expected +33612345678 valid")
	}
	if IsValid("not a phone") {
		t.Fatalf("expected invalid input rejected")
	}
}
