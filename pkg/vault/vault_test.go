package vault

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-secret-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	plaintexts := []string{
		"api-key-12345",
		"secret with spaces and 中文",
		"x",
	}
	for _, plaintext := range plaintexts {
		ciphertext, err := v.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q) error = %v", plaintext, err)
		}
		if ciphertext == plaintext {
			t.Fatalf("Encrypt(%q) returned plaintext", plaintext)
		}
		got, err := v.Decrypt(ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if got != plaintext {
			t.Errorf("Decrypt() = %q, want %q", got, plaintext)
		}
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	v, err := New("test-secret-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first, _ := v.Encrypt("same input")
	second, _ := v.Encrypt("same input")
	if first == second {
		t.Error("two encryptions of the same input produced identical ciphertext")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	v, err := New("test-secret-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ciphertext, err := v.Encrypt("sensitive")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// 翻转一个字符
	tampered := []byte(ciphertext)
	if tampered[len(tampered)-5] == 'A' {
		tampered[len(tampered)-5] = 'B'
	} else {
		tampered[len(tampered)-5] = 'A'
	}

	if _, err := v.Decrypt(string(tampered)); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Decrypt(tampered) error = %v, want ErrIntegrity", err)
	}
}

func TestDecryptWrongSecret(t *testing.T) {
	v1, _ := New("secret-one")
	v2, _ := New("secret-two")

	ciphertext, err := v1.Encrypt("sensitive")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := v2.Decrypt(ciphertext); !errors.Is(err, ErrIntegrity) {
		t.Errorf("Decrypt with wrong secret error = %v, want ErrIntegrity", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	v, _ := New("test-secret-key")

	for _, input := range []string{"not base64 !!!", "aGVsbG8=", "AAAA"} {
		if _, err := v.Decrypt(input); !errors.Is(err, ErrIntegrity) {
			t.Errorf("Decrypt(%q) error = %v, want ErrIntegrity", input, err)
		}
	}
}

func TestEmptyStringPassthrough(t *testing.T) {
	v, _ := New("test-secret-key")

	ciphertext, err := v.Encrypt("")
	if err != nil || ciphertext != "" {
		t.Errorf("Encrypt(\"\") = (%q, %v), want (\"\", nil)", ciphertext, err)
	}
	plaintext, err := v.Decrypt("")
	if err != nil || plaintext != "" {
		t.Errorf("Decrypt(\"\") = (%q, %v), want (\"\", nil)", plaintext, err)
	}
}

func TestNewEmptySecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}
