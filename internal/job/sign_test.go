package job

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func testJob() *Job {
	return &Job{
		ID:        "6f1c1f3a-0000-4000-8000-000000000001",
		CreatedAt: FormatTime(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		Tool:      ToolNotesCreate,
		Args:      Args{Title: "T", Body: "B"},
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	j := testJob()
	sig, err := Sign(j, "s")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	j.Sig = sig
	if err := Verify(j, "s"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_KnownVector(t *testing.T) {
	j, err := Decode([]byte(vectorLine))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Verify(j, "s"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	j := testJob()
	j.Sig, _ = Sign(j, "s")
	if err := Verify(j, "other"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	if err := Verify(testJob(), "s"); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("err = %v, want ErrMissingSignature", err)
	}
}

func TestVerify_SecretNotConfigured(t *testing.T) {
	j := testJob()
	j.Sig = "x"
	if err := Verify(j, ""); !errors.Is(err, ErrSecretNotConfigured) {
		t.Fatalf("err = %v, want ErrSecretNotConfigured", err)
	}
	if _, err := Sign(j, ""); !errors.Is(err, ErrSecretNotConfigured) {
		t.Fatalf("Sign err = %v, want ErrSecretNotConfigured", err)
	}
}

func TestVerify_TamperedLine(t *testing.T) {
	j := testJob()
	j.Sig, _ = Sign(j, "s")
	line, err := Encode(j)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip the low bit of the title's first character.
	tampered := bytes.Clone(line)
	idx := bytes.Index(tampered, []byte(`"title":"T"`)) + len(`"title":"`)
	tampered[idx] ^= 0x01

	back, err := Decode(tampered)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Verify(back, "s"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC)
	for _, s := range []string{
		"2024-01-02T03:04:05.123456Z",
		"2024-01-02T03:04:05.123456",
		"2024-01-02T03:04:05.123456+00:00",
		"2024-01-02T05:04:05.123456+02:00",
	} {
		got, err := ParseTime(s)
		if err != nil {
			t.Errorf("ParseTime(%q): %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, want %v", s, got, want)
		}
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}
