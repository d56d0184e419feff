package export

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// ReceiptSigner wraps exported batches in an Ethereum-style signature so
// downstream consumers can verify the engine produced them.
type ReceiptSigner struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// NewReceiptSigner creates a signer from a hex-encoded secp256k1 key.
func NewReceiptSigner(hexKey string) (*ReceiptSigner, error) {
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	address := crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
	logrus.WithField("signer", address).Info("receipt signer initialized")
	return &ReceiptSigner{privateKey: privateKey, address: address}, nil
}

// SignerAddress returns the Ethereum address derived from the signing key.
func (s *ReceiptSigner) SignerAddress() string {
	return s.address
}

// SignReceipt wraps a JSON payload with its Keccak256 hash and a recoverable
// secp256k1 signature over that hash.
func (s *ReceiptSigner) SignReceipt(payload []byte) ([]byte, error) {
	hash := crypto.Keccak256Hash(payload)

	signature, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}

	wrapper := struct {
		Payload       json.RawMessage `json:"payload"`
		Keccak256Hash string          `json:"keccak256_hash"`
		Signature     string          `json:"signature"`
		Signer        string          `json:"signer"`
		Timestamp     int64           `json:"timestamp"`
	}{
		Payload:       payload,
		Keccak256Hash: hash.Hex(),
		Signature:     fmt.Sprintf("0x%x", signature),
		Signer:        s.address,
		Timestamp:     time.Now().Unix(),
	}

	return json.Marshal(wrapper)
}

// VerifyReceipt checks a wrapped receipt: the hash must match the payload and
// the signature must recover to the claimed signer address.
func VerifyReceipt(wrapped []byte) (json.RawMessage, error) {
	var wrapper struct {
		Payload       json.RawMessage `json:"payload"`
		Keccak256Hash string          `json:"keccak256_hash"`
		Signature     string          `json:"signature"`
		Signer        string          `json:"signer"`
	}
	if err := json.Unmarshal(wrapped, &wrapper); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	hash := crypto.Keccak256Hash(wrapper.Payload)
	if hash.Hex() != wrapper.Keccak256Hash {
		return nil, fmt.Errorf("payload hash mismatch")
	}

	sig, err := hexutil.Decode(wrapper.Signature)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length: %d", len(sig))
	}

	pubKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return nil, fmt.Errorf("recover signer: %w", err)
	}
	if crypto.PubkeyToAddress(*pubKey).Hex() != wrapper.Signer {
		return nil, fmt.Errorf("signature does not match claimed signer")
	}

	return wrapper.Payload, nil
}
