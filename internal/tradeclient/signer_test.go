package tradeclient

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSignerReadsKeyFromEnvFile(t *testing.T) {
	unsetTradingPrivateKey(t)

	envFile := filepath.Join(t.TempDir(), "trading.env")
	const key = "ca7fe59b80f6c063e06d7cbe31a750ec14e797c80e0e7bc8e12d27a8125c1847" // 64 hex chars
	if err := os.WriteFile(envFile, []byte("TRADING_PRIVATE_KEY="+key+"\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	signer, err := LoadSigner(envFile)
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if signer.Address().Hex() == "" {
		t.Fatal("expected a non-empty derived address")
	}
}

func TestLoadSignerMissingKeyFails(t *testing.T) {
	unsetTradingPrivateKey(t)
	if _, err := LoadSigner(""); err == nil {
		t.Fatal("expected an error when TRADING_PRIVATE_KEY is unset and no env file given")
	}
}

// unsetTradingPrivateKey guarantees TRADING_PRIVATE_KEY is absent from the
// process environment for the duration of t, restoring whatever value (or
// absence) preceded it. godotenv.Load never overwrites a key that's merely
// set to an empty string, so t.Setenv("TRADING_PRIVATE_KEY", "") would not
// be enough on its own.
func unsetTradingPrivateKey(t *testing.T) {
	t.Helper()
	prev, had := os.LookupEnv("TRADING_PRIVATE_KEY")
	_ = os.Unsetenv("TRADING_PRIVATE_KEY")
	t.Cleanup(func() {
		if had {
			_ = os.Setenv("TRADING_PRIVATE_KEY", prev)
		} else {
			_ = os.Unsetenv("TRADING_PRIVATE_KEY")
		}
	})
}

func TestSignerSignHexProducesHexSignature(t *testing.T) {
	s := testSigner(t)
	hexSig, err := s.SignHex([]byte("payload"))
	if err != nil {
		t.Fatalf("SignHex: %v", err)
	}
	if len(hexSig) != 130 { // 65 bytes, hex-encoded
		t.Fatalf("signature hex length = %d, want 130", len(hexSig))
	}
}
