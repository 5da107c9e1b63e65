package token

import (
	"strings"
	"testing"
	"time"
)

func TestCodec_GenerateAndVerify(t *testing.T) {
	codec := NewCodec("test-secret", 5*time.Minute)

	tok, err := codec.Generate("user-1", "series/ch1/p1.jpg", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	userID, ok := codec.Verify(tok, "series/ch1/p1.jpg")
	if !ok {
		t.Fatal("expected token to verify for its own path")
	}
	if userID != "user-1" {
		t.Errorf("expected userID user-1, got %s", userID)
	}
}

func TestCodec_PathBinding(t *testing.T) {
	codec := NewCodec("test-secret", 5*time.Minute)

	tok, err := codec.Generate("user-1", "series/ch1/p1.jpg", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// A valid signature for one path must not authorize another.
	if _, ok := codec.Verify(tok, "series/ch1/p2.jpg"); ok {
		t.Error("token for p1.jpg verified against p2.jpg")
	}
	if _, ok := codec.Verify(tok, ""); ok {
		t.Error("token verified against empty path")
	}
}

func TestCodec_WrongSecret(t *testing.T) {
	codec := NewCodec("secret-a", 5*time.Minute)
	other := NewCodec("secret-b", 5*time.Minute)

	tok, err := codec.Generate("user-1", "img.png", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, ok := other.Verify(tok, "img.png"); ok {
		t.Error("token verified under a different secret")
	}
}

func TestCodec_Tampered(t *testing.T) {
	codec := NewCodec("test-secret", 5*time.Minute)

	tok, err := codec.Generate("user-1", "img.png", 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	parts := strings.Split(tok, ".")
	if len(parts) != 3 {
		t.Fatalf("expected 3 token parts, got %d", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	if _, ok := codec.Verify(tampered, "img.png"); ok {
		t.Error("tampered token verified")
	}

	if _, ok := codec.Verify("not-a-token", "img.png"); ok {
		t.Error("garbage verified")
	}
	if _, ok := codec.Verify("", "img.png"); ok {
		t.Error("empty string verified")
	}
}

func TestCodec_Expiry(t *testing.T) {
	codec := NewCodec("test-secret", 5*time.Minute)

	// Expiry claims carry second precision, so the shortest reliably
	// testable TTL is a couple of seconds.
	tok, err := codec.Generate("user-1", "img.png", 2*time.Second)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if _, ok := codec.Verify(tok, "img.png"); !ok {
		t.Fatal("fresh token did not verify")
	}

	time.Sleep(3100 * time.Millisecond)

	if _, ok := codec.Verify(tok, "img.png"); ok {
		t.Error("expired token verified")
	}
}

func TestCodec_DefaultTTL(t *testing.T) {
	codec := NewCodec("test-secret", 2*time.Minute)
	if got := codec.DefaultTTL(); got != 2*time.Minute {
		t.Errorf("expected default TTL 2m, got %v", got)
	}
}
