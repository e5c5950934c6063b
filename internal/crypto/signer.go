package crypto

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var intentDomain = ethcrypto.Keccak256([]byte("statera.intent.v1"))

// Signer signs circuit call intents with the liquidator's secp256k1 key so
// the contract gateway can attribute and replay-protect every call.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded wallet seed.
func NewSigner(seedHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid seed: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address identifies the liquidator to the gateway.
func (s *Signer) Address() common.Address {
	return s.address
}

// IntentDigest is keccak256(domain || keccak256(circuit) || keccak256(body) || nonce).
func IntentDigest(circuit string, body []byte, nonce uint64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return ethcrypto.Keccak256(
		intentDomain,
		ethcrypto.Keccak256([]byte(circuit)),
		ethcrypto.Keccak256(body),
		n[:],
	)
}

// SignIntent returns the 0x-prefixed 65-byte signature over IntentDigest.
func (s *Signer) SignIntent(circuit string, body []byte, nonce uint64) (string, error) {
	sig, err := ethcrypto.Sign(IntentDigest(circuit, body, nonce), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverIntentSigner returns the address that produced sig over the intent.
func RecoverIntentSigner(circuit string, body []byte, nonce uint64, sig string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: decode signature: %w", err)
	}
	pub, err := ethcrypto.SigToPub(IntentDigest(circuit, body, nonce), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
