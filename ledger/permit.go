package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kaifufi/limit-order-settlement-go/chain"
)

// Permit errors
var (
	ErrPermitExpired          = errors.New("permit expired")
	ErrPermitInvalidSignature = errors.New("permit: invalid signature")
	ErrPermitMalformed        = errors.New("permit: malformed arguments")
)

// PermitVersion is the EIP-712 domain version of every ledger token.
const PermitVersion = "1"

// PermitTypeHash is keccak256("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)")
var PermitTypeHash = crypto.Keccak256Hash([]byte(
	"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
))

var permitStructArgs = func() abi.Arguments {
	bytes32Type, _ := abi.NewType("bytes32", "", nil)
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{
		{Type: bytes32Type},
		{Type: addressType},
		{Type: addressType},
		{Type: uint256Type},
		{Type: uint256Type},
		{Type: uint256Type},
	}
}()

// PermitNonce returns the next permit nonce of owner for asset.
func (l *Ledger) PermitNonce(asset, owner common.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.permitNonces[asset][owner]
}

// PermitDigest returns the EIP-712 digest an owner signs to permit spender.
func (l *Ledger) PermitDigest(asset, owner, spender common.Address, value *big.Int, nonce uint64, deadline *big.Int) (common.Hash, error) {
	token, ok := l.Token(asset)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownToken, asset.Hex())
	}
	domain := &chain.EIP712Domain{
		Name:              token.Name,
		Version:           PermitVersion,
		ChainID:           l.chainID,
		VerifyingContract: asset,
	}
	encoded, err := permitStructArgs.Pack(PermitTypeHash, owner, spender, value, new(big.Int).SetUint64(nonce), deadline)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode permit: %w", err)
	}
	return chain.TypedDataHash(domain.Hash(), crypto.Keccak256Hash(encoded)), nil
}

// SignPermit produces permit arguments signed by key at the owner's current nonce.
func (l *Ledger) SignPermit(key *ecdsa.PrivateKey, asset, spender common.Address, value, deadline *big.Int) (chain.PermitArgs, error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	digest, err := l.PermitDigest(asset, owner, spender, value, l.PermitNonce(asset, owner), deadline)
	if err != nil {
		return chain.PermitArgs{}, err
	}
	sig, err := chain.SignHash(key, digest)
	if err != nil {
		return chain.PermitArgs{}, err
	}
	return chain.PermitArgs{
		Owner:    owner,
		Spender:  spender,
		Value:    new(big.Int).Set(value),
		Deadline: new(big.Int).Set(deadline),
		V:        sig[64],
		R:        common.BytesToHash(sig[:32]),
		S:        common.BytesToHash(sig[32:64]),
	}, nil
}

// ApplyPermit verifies EIP-2612 permit arguments for asset and sets the allowance.
// The owner's nonce is consumed, so a permit applies at most once.
func (l *Ledger) ApplyPermit(ctx context.Context, asset common.Address, permit []byte) error {
	_, release := l.host.Enter(ctx)
	defer release()
	args, err := chain.UnpackPermit(permit)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPermitMalformed, err)
	}
	if args.Deadline.IsUint64() && args.Deadline.Uint64() < l.clock.Now() {
		return fmt.Errorf("%w: deadline %s", ErrPermitExpired, args.Deadline)
	}

	nonce := l.PermitNonce(asset, args.Owner)
	digest, err := l.PermitDigest(asset, args.Owner, args.Spender, args.Value, nonce, args.Deadline)
	if err != nil {
		return err
	}
	sig := make([]byte, 65)
	copy(sig, args.R.Bytes())
	copy(sig[32:], args.S.Bytes())
	sig[64] = args.V
	signer, err := chain.RecoverSigner(digest, sig)
	if err != nil || signer != args.Owner {
		return ErrPermitInvalidSignature
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.setPermitNonce(asset, args.Owner, nonce+1)
	l.setAllowance(asset, args.Owner, args.Spender, new(big.Int).Set(args.Value))
	return nil
}

func (l *Ledger) setPermitNonce(asset, owner common.Address, v uint64) {
	prev, had := l.permitNonces[asset][owner]
	l.permitNonces[asset][owner] = v
	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if had {
			l.permitNonces[asset][owner] = prev
		} else {
			delete(l.permitNonces[asset], owner)
		}
	})
}
