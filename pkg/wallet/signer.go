// Package wallet holds the venue signing key in locked memory and reads
// the on-chain balances the trader runs on.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer seals the order-signing key in a memguard enclave. The key is
// encrypted at rest and only reconstructed for the duration of one Use
// call; the plaintext copy is wiped before Use returns.
type Signer struct {
	enclave *memguard.Enclave
	address common.Address
}

// NewSigner parses a hex private key (with or without 0x prefix),
// derives its address and seals the key bytes.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	// NewEnclave wipes the source slice after sealing.
	enclave := memguard.NewEnclave(crypto.FromECDSA(key))
	key.D.SetInt64(0)

	return &Signer{
		enclave: enclave,
		address: address,
	}, nil
}

// Address returns the derived signing address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Use opens the sealed key, hands it to fn and wipes the plaintext copy
// when fn returns. fn must not retain the key.
func (s *Signer) Use(fn func(key *ecdsa.PrivateKey) error) error {
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := crypto.ToECDSA(buf.Bytes())
	if err != nil {
		return fmt.Errorf("reconstruct private key: %w", err)
	}
	defer key.D.SetInt64(0)

	return fn(key)
}
