package tradeclient

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// Signer produces secp256k1 signatures over order payloads, the scheme
// several venues in this engine's domain (Lighter, EdgeX-style L2 venues)
// use for request authentication in place of a plain HMAC secret.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// LoadSigner reads a dotenv file (per the configuration's trading.env_file)
// and constructs a Signer from its TRADING_PRIVATE_KEY entry, a hex-encoded
// secp256k1 private key with no "0x" prefix required.
func LoadSigner(envFile string) (*Signer, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("tradeclient: load env file %s: %w", envFile, err)
		}
	}

	hexKey := os.Getenv("TRADING_PRIVATE_KEY")
	if hexKey == "" {
		return nil, fmt.Errorf("tradeclient: TRADING_PRIVATE_KEY not set")
	}
	priv, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("tradeclient: parse private key: %w", err)
	}

	return &Signer{key: priv, addr: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// Sign returns the 65-byte recoverable secp256k1 signature over the
// Keccak256 hash of payload, in the {r, s, v} layout crypto.Sign produces.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	hash := crypto.Keccak256(payload)
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("tradeclient: sign: %w", err)
	}
	return sig, nil
}

// SignHex is Sign with its output hex-encoded, the form HTTPClient sends
// in the request body's "signature" field.
func (s *Signer) SignHex(payload []byte) (string, error) {
	sig, err := s.Sign(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

// Address returns the Ethereum-style address derived from the signer's
// public key, used as the account identifier several venues require
// alongside the signature.
func (s *Signer) Address() common.Address {
	return s.addr
}

// nonce is a monotonic per-process counter suitable as a request nonce
// when the venue doesn't supply one. It's process-local, not persisted:
// fine for a short-lived trading session, not for surviving a restart.
type nonce struct {
	next int64
}

func (n *nonce) Next() string {
	n.next++
	return strconv.FormatInt(n.next, 10)
}
