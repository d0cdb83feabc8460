package vcrypto

import (
	"bytes"
	"testing"
)

func TestDeriveWithStoredParams(t *testing.T) {
	salt := make([]byte, 16)
	for i := range salt {
		salt[i] = byte(i)
	}

	key1, err := DeriveWithStoredParams([]byte("correct horse battery staple"), salt, ProfileLow.Mem, ProfileLow.Iter, ProfileLow.Thread)
	if err != nil {
		t.Fatalf("DeriveWithStoredParams: %v", err)
	}
	if len(key1) != KeySize {
		t.Errorf("key length = %d, want %d", len(key1), KeySize)
	}

	key2, err := DeriveWithStoredParams([]byte("correct horse battery staple"), salt, ProfileLow.Mem, ProfileLow.Iter, ProfileLow.Thread)
	if err != nil {
		t.Fatalf("DeriveWithStoredParams (repeat): %v", err)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("same inputs should produce the same key")
	}

	key3, err := DeriveWithStoredParams([]byte("a different passphrase"), salt, ProfileLow.Mem, ProfileLow.Iter, ProfileLow.Thread)
	if err != nil {
		t.Fatalf("DeriveWithStoredParams (different passphrase): %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestValidateParamsRejectsOutOfRange(t *testing.T) {
	if err := ValidateParams(ProfileLow.Mem-1, ProfileLow.Iter); err == nil {
		t.Error("expected error for mem below LOW")
	}
	if err := ValidateParams(ProfileHigh.Mem+1, ProfileHigh.Iter); err == nil {
		t.Error("expected error for mem above HIGH")
	}
	if err := ValidateParams(ProfileMedium.Mem, ProfileHigh.Iter+1); err == nil {
		t.Error("expected error for iter above HIGH")
	}
	if err := ValidateParams(ProfileMedium.Mem, ProfileMedium.Iter); err != nil {
		t.Errorf("expected MEDIUM params to validate, got %v", err)
	}
}

func TestSetProfileByRAM(t *testing.T) {
	defer SetProfile(ProfileMedium)

	SetProfileByRAM(512)
	if CurrentProfile() != ProfileLow {
		t.Errorf("512MB RAM should select ProfileLow, got %+v", CurrentProfile())
	}

	SetProfileByRAM(2048)
	if CurrentProfile() != ProfileMedium {
		t.Errorf("2048MB RAM should select ProfileMedium, got %+v", CurrentProfile())
	}

	SetProfileByRAM(8192)
	if CurrentProfile() != ProfileHigh {
		t.Errorf("8192MB RAM should select ProfileHigh, got %+v", CurrentProfile())
	}
}
