package vcrypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}

	vaultID := [16]byte{1, 2, 3}
	fileID := [16]byte{4, 5, 6}
	aad := BuildAAD(vaultID, fileID, 0)

	plaintext := []byte("hello, vault")
	nonce, sealed, err := Encrypt(key, nil, plaintext, aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(nonce) != NonceSize {
		t.Fatalf("nonce length = %d, want %d", len(nonce), NonceSize)
	}
	if len(sealed) != len(plaintext)+TagSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+TagSize)
	}

	got, err := Decrypt(key, nonce, sealed, aad)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt = %q, want %q", got, plaintext)
	}
}

func TestDecryptWrongAADFails(t *testing.T) {
	key, _ := RandomBytes(KeySize)
	vaultID := [16]byte{1}
	fileID := [16]byte{2}
	aad := BuildAAD(vaultID, fileID, 0)

	nonce, sealed, err := Encrypt(key, nil, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	wrongAAD := BuildAAD(vaultID, fileID, 1)
	if _, err := Decrypt(key, nonce, sealed, wrongAAD); err != ErrAuthFailed {
		t.Errorf("Decrypt with wrong AAD = %v, want ErrAuthFailed", err)
	}
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	key, _ := RandomBytes(KeySize)
	vaultID := [16]byte{1}
	fileID := [16]byte{2}
	aad := BuildAAD(vaultID, fileID, 0)

	nonce, sealed, err := Encrypt(key, nil, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[0] ^= 0xFF

	if _, err := Decrypt(key, nonce, tampered, aad); err != ErrAuthFailed {
		t.Errorf("Decrypt with tampered ciphertext = %v, want ErrAuthFailed", err)
	}
}

func TestEncryptGeneratesDistinctNonces(t *testing.T) {
	key, _ := RandomBytes(KeySize)
	aad := BuildAAD([16]byte{}, [16]byte{}, 0)

	n1, _, err := Encrypt(key, nil, []byte("a"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	n2, _, err := Encrypt(key, nil, []byte("a"), aad)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Error("two auto-generated nonces should not collide")
	}
}
