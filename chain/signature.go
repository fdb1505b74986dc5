package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// Signature errors
var (
	ErrSignatureLength = errors.New("invalid signature length")
	ErrSignatureValues = errors.New("invalid signature values")
)

// SignatureValidator is implemented by contract-wallet makers (EIP-1271).
type SignatureValidator interface {
	IsValidSignature(hash common.Hash, signature []byte) bool
}

type approvalKey struct {
	signer common.Address
	hash   common.Hash
}

// Verifier decides whether a maker authorized an order hash. It accepts 65-byte
// and 64-byte compact ECDSA signatures, contract-wallet signatures and hashes the
// maker approved in advance.
type Verifier struct {
	mu       sync.Mutex
	registry *host.Registry
	journal  *host.Journal
	approved map[approvalKey]struct{}
}

// NewVerifier creates a verifier bound to the host registry and journal.
func NewVerifier(h *host.Host) *Verifier {
	return &Verifier{
		registry: h.Registry,
		journal:  h.Journal,
		approved: make(map[approvalKey]struct{}),
	}
}

// Approve pre-authorizes hash on behalf of signer.
func (v *Verifier) Approve(signer common.Address, hash common.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := approvalKey{signer, hash}
	if _, ok := v.approved[key]; ok {
		return
	}
	v.approved[key] = struct{}{}
	v.journal.Append(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.approved, key)
	})
}

// IsApproved reports whether signer pre-authorized hash.
func (v *Verifier) IsApproved(signer common.Address, hash common.Hash) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.approved[approvalKey{signer, hash}]
	return ok
}

// Verify reports whether signature authorizes hash for signer.
func (v *Verifier) Verify(signer common.Address, hash common.Hash, signature []byte) bool {
	if v.IsApproved(signer, hash) {
		return true
	}
	if c, ok := v.registry.Lookup(signer); ok {
		if wallet, ok := c.(SignatureValidator); ok {
			return wallet.IsValidSignature(hash, signature)
		}
	}
	recovered, err := RecoverSigner(hash, signature)
	if err != nil {
		return false
	}
	return recovered == signer
}

// RecoverSigner recovers the address that produced a 65-byte (r, s, v) or a
// 64-byte EIP-2098 (r, vs) signature over hash. v may be 0/1 or 27/28.
func RecoverSigner(hash common.Hash, signature []byte) (common.Address, error) {
	sig, err := normalizeSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[64], r, s, true) {
		return common.Address{}, ErrSignatureValues
	}
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeSignature returns a 65-byte signature with a 0/1 recovery id.
func normalizeSignature(signature []byte) ([]byte, error) {
	switch len(signature) {
	case 65:
		sig := append([]byte(nil), signature...)
		if sig[64] >= 27 {
			sig[64] -= 27
		}
		if sig[64] > 1 {
			return nil, ErrSignatureValues
		}
		return sig, nil
	case 64:
		sig := make([]byte, 65)
		copy(sig, signature[:32])
		copy(sig[32:64], signature[32:64])
		sig[64] = sig[32] >> 7
		sig[32] &= 0x7f
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrSignatureLength, len(signature))
	}
}

// SignHash signs hash and returns a 65-byte signature with v in {27, 28}.
func SignHash(key *ecdsa.PrivateKey, hash common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(hash.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign hash: %w", err)
	}

	// Add recovery ID
	signature[64] += 27

	return signature, nil
}

// CompactSignature converts a 65-byte signature into its EIP-2098 64-byte form.
func CompactSignature(signature []byte) ([]byte, error) {
	if len(signature) != 65 {
		return nil, fmt.Errorf("%w: %d", ErrSignatureLength, len(signature))
	}
	sig, err := normalizeSignature(signature)
	if err != nil {
		return nil, err
	}
	compact := make([]byte, 64)
	copy(compact, sig[:64])
	compact[32] |= sig[64] << 7
	return compact, nil
}
