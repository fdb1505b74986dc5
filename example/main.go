// Example usage of the limit order settlement engine
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	limitorder "github.com/kaifufi/limit-order-settlement-go"
	"github.com/kaifufi/limit-order-settlement-go/calculator"
	"github.com/kaifufi/limit-order-settlement-go/chain"
	"github.com/kaifufi/limit-order-settlement-go/extension"
	"github.com/kaifufi/limit-order-settlement-go/host"
	"github.com/kaifufi/limit-order-settlement-go/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Config file is optional; LOP_* environment variables override it
	cfg, err := limitorder.LoadConfig(os.Getenv("LOP_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := limitorder.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := limitorder.OpenStore(cfg.Store)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	now := uint64(time.Now().Unix())
	h := host.New(host.NewManualClock(now))
	chainID := big.NewInt(int64(cfg.ChainID))
	weth := common.HexToAddress(cfg.WrappedNative)
	assets := ledger.New(h, chainID, weth)

	protocol, err := limitorder.NewProtocol(limitorder.ProtocolConfig{
		Address: common.HexToAddress(cfg.VerifyingContract),
		ChainID: chainID,
		Host:    h,
		Ledger:  assets,
		Store:   store,
		Logger:  logger,
		Metrics: limitorder.NewMetrics(prometheus.DefaultRegisterer, cfg.Metrics.Namespace),
	})
	if err != nil {
		logger.Fatal("failed to create protocol", zap.Error(err))
	}
	defer protocol.Close()

	// Deploy a Dutch auction calculator and a token to sell
	auction := common.HexToAddress("0x00000000000000000000000000000000000da001")
	h.Registry.Deploy(auction, calculator.NewDutchAuction(h.Clock))
	dai := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	assets.AddToken(dai, "Dai Stablecoin", "DAI")

	ctx := context.Background()
	maker := mustClient(protocol, logger)
	taker := mustClient(protocol, logger)

	makingAmount, _ := limitorder.ParseUnits("100", 18)
	startTaking, _ := limitorder.ParseUnits("0.1", 18)
	endTaking, _ := limitorder.ParseUnits("0.05", 18)
	must(assets.Mint(ctx, dai, maker.Address(), makingAmount))
	must(assets.Approve(ctx, dai, maker.Address(), protocol.Address(), makingAmount))
	must(assets.Fund(ctx, taker.Address(), startTaking))
	must(assets.Wrap(ctx, taker.Address(), startTaking))
	must(assets.Approve(ctx, weth, taker.Address(), protocol.Address(), startTaking))

	// The price decays from 0.1 to 0.05 WETH over one hour
	startEnd := calculator.PackTimestamps(now, now+3600)
	ext := extension.New(map[extension.Slot][]byte{
		extension.SlotMakingAmountGetter: calculator.DutchAuctionMakingGetter(auction, startEnd, startTaking, endTaking, makingAmount),
		extension.SlotTakingAmountGetter: calculator.DutchAuctionTakingGetter(auction, startEnd, startTaking, endTaking, makingAmount),
	})

	fmt.Println("Placing Dutch auction order...")
	order, err := maker.PlaceOrder(ctx, &chain.OrderData{
		MakerAsset:   dai,
		TakerAsset:   weth,
		MakingAmount: makingAmount,
		TakingAmount: startTaking,
		Extension:    ext,
	}, limitorder.PlaceOrderOptions{Expiration: now + 3600, BindNonce: true})
	if err != nil {
		logger.Fatal("failed to place order", zap.Error(err))
	}

	// Half way through the auction
	h.Clock.(*host.ManualClock).Advance(1800)

	fmt.Println("Filling the whole order...")
	res, err := taker.FillOrder(ctx, order, makingAmount, nil, limitorder.FillOptions{Mode: limitorder.FillByMaking})
	if err != nil {
		logger.Fatal("fill failed", zap.Stringer("category", limitorder.Classify(err)), zap.Error(err))
	}
	fmt.Printf("Filled %s DAI for %s WETH (settlement %s)\n",
		limitorder.FormatUnits(res.MakingAmount, 18),
		limitorder.FormatUnits(res.TakingAmount, 18),
		res.SettlementID,
	)
}

func mustClient(protocol *limitorder.Protocol, logger *zap.Logger) *limitorder.Client {
	key, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	client, err := limitorder.NewClient(limitorder.ClientConfig{
		Protocol:   protocol,
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func must(err error) {
	if err != nil {
		log.Fatalf("Setup failed: %v", err)
	}
}
