package config

import (
	"errors"
	"testing"

	"nu-mcp/internal/domain"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecryptValue(encrypted, "wrong-pass")
	if !errors.Is(err, domain.ErrDecryption) {
		t.Errorf("err = %v, want ErrDecryption", err)
	}
}

func TestDecryptValueMalformed(t *testing.T) {
	tests := map[string]string{
		"no separator":   "abcdef",
		"bad salt":       "zz:00",
		"bad ciphertext": "00:zz",
		"too short":      "00112233445566778899aabbccddeeff:00",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecryptValue(in, "pass")
			if !errors.Is(err, domain.ErrDecryption) {
				t.Errorf("err = %v, want ErrDecryption", err)
			}
		})
	}
}

func TestDecryptSecrets(t *testing.T) {
	passphrase := "test-config-key"
	encrypted, err := EncryptValue("sk-secret123456", passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	cfg := Defaults()
	cfg.Apply.APIKey = SecretPrefix + encrypted
	if err := decryptSecrets(cfg, passphrase); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Apply.APIKey != "sk-secret123456" {
		t.Errorf("APIKey = %q", cfg.Apply.APIKey)
	}
}

func TestDecryptSecretsNoEncPrefix(t *testing.T) {
	cfg := Defaults()
	cfg.Apply.APIKey = "plain-key"
	if err := decryptSecrets(cfg, "any"); err != nil {
		t.Fatalf("decryptSecrets: %v", err)
	}
	if cfg.Apply.APIKey != "plain-key" {
		t.Errorf("APIKey = %q, want unchanged", cfg.Apply.APIKey)
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	passphrase := "load-key"
	encrypted, err := EncryptValue("sk-loaded", passphrase)
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "apply:\n  api_key: \""+SecretPrefix+encrypted+"\"\n", 0o600)
	t.Setenv("NUMCP_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Apply.APIKey != "sk-loaded" {
		t.Errorf("APIKey = %q", cfg.Apply.APIKey)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := writeConfig(t, "apply:\n  api_key: \"enc:garbage\"\n", 0o600)
	t.Setenv("NUMCP_CONFIG_KEY", "k")

	_, err := Load(path)
	if !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("err = %v, want ErrDecryption", err)
	}
}
