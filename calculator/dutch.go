package calculator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/limit-order-settlement-go/host"
)

// ErrInvalidAuctionWindow is returned when the auction does not end after it starts.
var ErrInvalidAuctionWindow = errors.New("auction end must be after start")

var lowMask128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// DutchAuction prices an order whose taking amount moves linearly from a start
// amount to an end amount over a time window.
type DutchAuction struct {
	clock host.Clock
}

var _ host.StaticCaller = (*DutchAuction)(nil)

// NewDutchAuction creates a calculator reading time from clock.
func NewDutchAuction(clock host.Clock) *DutchAuction {
	return &DutchAuction{clock: clock}
}

// PackTimestamps packs the auction window as start<<128 | end.
func PackTimestamps(start, end uint64) *big.Int {
	packed := new(big.Int).Lsh(new(big.Int).SetUint64(start), 128)
	return packed.Or(packed, new(big.Int).SetUint64(end))
}

// AuctionTakingAmount interpolates the full taking amount at the current time.
// Before the start the start amount applies; after the end the end amount does.
func (d *DutchAuction) AuctionTakingAmount(startEnd, takingStart, takingEnd *big.Int) (*big.Int, error) {
	start := new(big.Int).Rsh(startEnd, 128)
	end := new(big.Int).And(startEnd, lowMask128)
	if end.Cmp(start) <= 0 {
		return nil, fmt.Errorf("%w: start %s, end %s", ErrInvalidAuctionWindow, start, end)
	}

	now := new(big.Int).SetUint64(d.clock.Now())
	if now.Cmp(start) < 0 {
		now.Set(start)
	}
	if now.Cmp(end) > 0 {
		now.Set(end)
	}

	// (takingStart*(end-now) + takingEnd*(now-start)) / (end-start)
	left := new(big.Int).Mul(takingStart, new(big.Int).Sub(end, now))
	right := new(big.Int).Mul(takingEnd, new(big.Int).Sub(now, start))
	sum := left.Add(left, right)
	return sum.Div(sum, new(big.Int).Sub(end, start)), nil
}

// MakingAmount returns the making amount worth requestedTakingAmount right now.
func (d *DutchAuction) MakingAmount(startEnd, takingStart, takingEnd, makingAmount, requestedTakingAmount *big.Int) (*big.Int, error) {
	taking, err := d.AuctionTakingAmount(startEnd, takingStart, takingEnd)
	if err != nil {
		return nil, err
	}
	if taking.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero taking amount", ErrInvalidAuctionWindow)
	}
	out := new(big.Int).Mul(makingAmount, requestedTakingAmount)
	return out.Div(out, taking), nil
}

// TakingAmount returns the taking amount owed for requestedMakingAmount right now.
func (d *DutchAuction) TakingAmount(startEnd, takingStart, takingEnd, makingAmount, requestedMakingAmount *big.Int) (*big.Int, error) {
	if makingAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero making amount", ErrInvalidAuctionWindow)
	}
	taking, err := d.AuctionTakingAmount(startEnd, takingStart, takingEnd)
	if err != nil {
		return nil, err
	}
	out := taking.Mul(taking, requestedMakingAmount)
	return out.Div(out, makingAmount), nil
}

// StaticCall dispatches getMakingAmount and getTakingAmount calldata.
func (d *DutchAuction) StaticCall(_ context.Context, _ host.Env, input []byte) ([]byte, error) {
	method, args, err := decodeCall(dutchAuctionABI, input)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	switch method.Name {
	case "getMakingAmount":
		out, err = d.MakingAmount(args[0], args[1], args[2], args[3], args[4])
	case "getTakingAmount":
		out, err = d.TakingAmount(args[0], args[1], args[2], args[3], args[4])
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
	}
	if err != nil {
		return nil, err
	}
	return encodeResult(method, out)
}

// DutchAuctionMakingGetter builds the making-amount getter slot for an order.
func DutchAuctionMakingGetter(target common.Address, startEnd, takingStart, takingEnd, makingAmount *big.Int) []byte {
	return getter(target, dutchAuctionABI, "getMakingAmount", 1, startEnd, takingStart, takingEnd, makingAmount)
}

// DutchAuctionTakingGetter builds the taking-amount getter slot for an order.
func DutchAuctionTakingGetter(target common.Address, startEnd, takingStart, takingEnd, makingAmount *big.Int) []byte {
	return getter(target, dutchAuctionABI, "getTakingAmount", 1, startEnd, takingStart, takingEnd, makingAmount)
}
