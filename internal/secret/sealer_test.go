package secret

import (
	"strings"
	"testing"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNewAESGCMSealerKeyLength(t *testing.T) {
	for _, size := range []int{16, 24, 32} {
		if _, err := NewAESGCMSealer(make([]byte, size)); err != nil {
			t.Errorf("key size %d rejected: %v", size, err)
		}
	}
	for _, size := range []int{0, 8, 31, 33} {
		if _, err := NewAESGCMSealer(make([]byte, size)); err == nil {
			t.Errorf("key size %d accepted", size)
		}
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey())
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}

	plaintext := "gho_verysecretaccesstoken"
	sealed, err := sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if strings.Contains(sealed, plaintext) {
		t.Fatal("sealed output leaks the plaintext")
	}

	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if opened != plaintext {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

// Two seals of the same value must differ: a fresh nonce is drawn per call.
func TestSealNonDeterministic(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey())
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}

	first, err := sealer.Seal("same value")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	second, err := sealer.Seal("same value")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if first == second {
		t.Fatal("two seals of the same value are identical")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey())
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}

	sealed, err := sealer.Seal("payload")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	// Flip a character in the encoded blob.
	tampered := []byte(sealed)
	if tampered[len(tampered)-1] == 'A' {
		tampered[len(tampered)-1] = 'B'
	} else {
		tampered[len(tampered)-1] = 'A'
	}

	if _, err := sealer.Open(string(tampered)); err == nil {
		t.Fatal("tampered ciphertext accepted")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey())
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}

	for _, input := range []string{"", "not-base64!!!", "dG9vc2hvcnQ"} {
		if _, err := sealer.Open(input); err == nil {
			t.Errorf("Open(%q) accepted invalid input", input)
		}
	}
}

func TestWrongKeyFailsToOpen(t *testing.T) {
	sealer, err := NewAESGCMSealer(testKey())
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}
	other, err := NewAESGCMSealer([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewAESGCMSealer failed: %v", err)
	}

	sealed, err := sealer.Seal("payload")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatal("foreign key opened the blob")
	}
}
