package limitorder

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/calculator"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/invalidator"
	"github.com/kaifufi/limit-order-settlement-go/ledger"
)

var (
	// ErrInvalidParam represents an invalid parameter error
	ErrInvalidParam = errors.New("invalid parameter")

	// Authorization
	ErrBadSignature = errors.New("bad signature")
	ErrPrivateOrder = errors.New("private order")
	ErrAccessDenied = errors.New("access denied")

	// Order state
	ErrOrderExpired        = errors.New("order expired")
	ErrBitInvalidatedOrder = errors.New("bit invalidated order")
	ErrUnknownOrder        = errors.New("unknown order")
	ErrReentrantFill       = errors.New("order is already being settled")

	// Policy
	ErrPredicateFailed = errors.New("predicate is not true")

	// Amount
	ErrSwapWithZeroAmount  = errors.New("swap with zero amount")
	ErrAmbiguousAmount     = errors.New("only one of making and taking amount can be requested")
	ErrWrongAmount         = errors.New("wrong amount")
	ErrTakingAmountTooHigh = errors.New("taking amount too high")
	ErrMakingAmountTooLow  = errors.New("making amount too low")

	// Value
	ErrInvalidMsgValue = errors.New("invalid msg value")
	ErrUnwrapNotWETH   = errors.New("maker asset is not the wrapped native token")

	// Transfer
	ErrTransferFailed    = errors.New("transfer failed")
	ErrUnknownAssetProxy = errors.New("asset data given but no asset proxy at asset address")

	// Interaction
	ErrInteractionFailed = errors.New("taker interaction failed")

	// Misc
	ErrAdvanceNonceFailed = errors.New("advance nonce failed")
	ErrPredicateTooDeep   = errors.New("predicate nesting too deep")
	ErrUnknownPredicate   = errors.New("unknown predicate method")
)

// Category groups failures by what the caller should do about them.
type Category int

const (
	CategoryInternal Category = iota
	CategoryAuthorization
	CategoryOrderState
	CategoryPolicy
	CategoryAmount
	CategoryValue
	CategoryTransfer
	CategoryInteraction
)

func (c Category) String() string {
	switch c {
	case CategoryAuthorization:
		return "authorization"
	case CategoryOrderState:
		return "order_state"
	case CategoryPolicy:
		return "policy"
	case CategoryAmount:
		return "amount"
	case CategoryValue:
		return "value"
	case CategoryTransfer:
		return "transfer"
	case CategoryInteraction:
		return "interaction"
	default:
		return "internal"
	}
}

// Checked in order; the first match wins so a nested fill's own reason is
// reported before the interaction that carried it.
var categories = []struct {
	category Category
	errs     []error
}{
	{CategoryAuthorization, []error{ErrBadSignature, ErrPrivateOrder, ErrAccessDenied, ledger.ErrPermitInvalidSignature, ledger.ErrPermitExpired}},
	{CategoryOrderState, []error{ErrOrderExpired, ErrBitInvalidatedOrder, ErrUnknownOrder, ErrReentrantFill, invalidator.ErrOrderAlreadyFilled}},
	{CategoryPolicy, []error{ErrPredicateFailed}},
	{CategoryAmount, []error{
		ErrSwapWithZeroAmount, ErrAmbiguousAmount, ErrWrongAmount, ErrTakingAmountTooHigh, ErrMakingAmountTooLow,
		invalidator.ErrOverfill, extension.ErrGetAmountCallFailed, calculator.ErrIncorrectRange,
		calculator.ErrInvalidAuctionWindow, calculator.ErrRemainingExceedsTotal,
		chain.ErrNilAmount, chain.ErrNegativeAmount, chain.ErrAmountTooLarge,
	}},
	{CategoryValue, []error{ErrInvalidMsgValue, ErrUnwrapNotWETH}},
	{CategoryTransfer, []error{
		ErrTransferFailed, ErrUnknownAssetProxy, ledger.ErrInsufficientBalance, ledger.ErrInsufficientAllowance,
		ledger.ErrUnknownToken, ledger.ErrPermitMalformed,
	}},
	{CategoryInteraction, []error{ErrInteractionFailed, extension.ErrPreInteraction, extension.ErrPostInteraction}},
}

// Classify maps an error returned by the protocol to its Category.
func Classify(err error) Category {
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.category
			}
		}
	}
	return CategoryInternal
}

// FillError reports why an entry point failed for an order
type FillError struct {
	Op        string
	OrderHash common.Hash
	Err       error
}

func (e *FillError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.OrderHash.Hex(), e.Err)
}

func (e *FillError) Unwrap() error {
	return e.Err
}

// InvalidParamError represents an invalid parameter error with context
type InvalidParamError struct {
	Message string
}

func (e *InvalidParamError) Error() string {
	return e.Message
}

func (e *InvalidParamError) Is(target error) bool {
	return target == ErrInvalidParam
}
