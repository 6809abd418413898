package abiver

import "testing"

func TestCheckAcceptsSameMajor(t *testing.T) {
	if err := Check("v1.2.3"); err != nil {
		t.Fatalf("expected compatible version to pass, got %v", err)
	}
}

func TestCheckRejectsDifferentMajor(t *testing.T) {
	if err := Check("v2.0.0"); err == nil {
		t.Fatalf("expected major-version mismatch to be rejected")
	}
}

func TestCheckRejectsMalformedVersion(t *testing.T) {
	if err := Check("not-a-version"); err == nil {
		t.Fatalf("expected malformed version string to be rejected")
	}
}
