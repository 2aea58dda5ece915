package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebula-labs-xyz/lendefi-core/config"
	"github.com/nebula-labs-xyz/lendefi-core/native/bank"
	"github.com/nebula-labs-xyz/lendefi-core/native/lending"
	"github.com/nebula-labs-xyz/lendefi-core/native/oracle"
	"github.com/nebula-labs-xyz/lendefi-core/native/registry"
	"github.com/nebula-labs-xyz/lendefi-core/observability"
	"github.com/nebula-labs-xyz/lendefi-core/observability/logging"
	"github.com/nebula-labs-xyz/lendefi-core/storage"
)

func main() {
	var cfgPath, marketsPath string
	flag.StringVar(&cfgPath, "config", "./lendefid.toml", "path to the node configuration file")
	flag.StringVar(&marketsPath, "markets", "./markets.yaml", "path to the market manifest")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Server.LogFile != "" {
		logging.SetupWithFile("lendefid", cfg.Server.Environment, cfg.Server.LogFile)
	} else {
		logging.Setup("lendefid", cfg.Server.Environment)
	}

	manifest, err := config.LoadManifest(marketsPath)
	if err != nil {
		log.Fatalf("load markets: %v", err)
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	n, err := buildNode(cfg, manifest, db)
	if err != nil {
		log.Fatalf("build node: %v", err)
	}
	defer func() {
		if err := n.ledger.Save(db); err != nil {
			log.Printf("save ledger: %v", err)
		}
	}()

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Get("/status", n.handleStatus)
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("lendefid listening on %s", cfg.Server.ListenAddress)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("forcing server stop: %v", err)
			_ = server.Close()
		}
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// node bundles the wired protocol components behind the ops HTTP surface.
type node struct {
	engine *lending.Engine
	oracle *oracle.Aggregator
	ledger *bank.Ledger
	assets []common.Address
}

func buildNode(cfg *config.Config, manifest *config.Manifest, db storage.Database) (*node, error) {
	moduleAddr := common.HexToAddress(cfg.Protocol.ModuleAccount)
	baseToken := common.HexToAddress(cfg.Protocol.BaseToken)
	shareToken := common.HexToAddress(cfg.Protocol.ShareToken)
	govToken := common.HexToAddress(cfg.Protocol.GovToken)
	treasury := common.HexToAddress(cfg.Protocol.Treasury)

	ledger := bank.NewLedger(moduleAddr)
	if err := ledger.Load(db); err != nil {
		return nil, err
	}

	reg := registry.NewRegistry()
	agg := oracle.NewAggregator(reg)
	if err := applyOracleConfig(agg, cfg.Oracle); err != nil {
		return nil, err
	}

	engine := lending.NewEngine(baseToken, moduleAddr, treasury)
	engine.SetState(storage.NewLendingStore(db))
	engine.SetCollaborators(
		reg,
		agg,
		ledger,
		ledger.Token(shareToken),
		ledger.Token(govToken),
		&treasurySink{ledger: ledger, token: baseToken, treasury: treasury},
	)
	engine.SetEmitter(logEmitter{logger: slog.Default()})
	agg.SetEmitter(logEmitter{logger: slog.Default()})
	if err := applyProtocolConfig(engine, cfg); err != nil {
		return nil, err
	}

	assets, err := registerMarkets(reg, agg, manifest)
	if err != nil {
		return nil, err
	}

	return &node{engine: engine, oracle: agg, ledger: ledger, assets: assets}, nil
}

// applyProtocolConfig pushes the file-level launch parameters through the
// engine's own setters so the same bounds apply as at runtime. Role checks
// are not wired yet at this point in boot, so the zero caller passes.
func applyProtocolConfig(engine *lending.Engine, cfg *config.Config) error {
	var admin common.Address
	if err := engine.UpdateBaseProfitTarget(admin, bigFromInt64(cfg.Protocol.BaseProfitTargetWad)); err != nil {
		return err
	}
	if err := engine.UpdateBaseBorrowRate(admin, bigFromInt64(cfg.Protocol.BaseBorrowRateWad)); err != nil {
		return err
	}
	if err := engine.UpdateRewardInterval(admin, cfg.Protocol.RewardIntervalSeconds); err != nil {
		return err
	}
	rewardable, err := cfg.RewardableSupplyAmount()
	if err != nil {
		return err
	}
	if err := engine.UpdateRewardableSupply(admin, rewardable); err != nil {
		return err
	}
	target, err := cfg.TargetRewardAmount()
	if err != nil {
		return err
	}
	if err := engine.UpdateTargetReward(admin, target); err != nil {
		return err
	}
	threshold, err := cfg.LiquidatorThresholdAmount()
	if err != nil {
		return err
	}
	if err := engine.UpdateLiquidatorThreshold(admin, threshold); err != nil {
		return err
	}
	return engine.UpdateFlashLoanFee(admin, cfg.Protocol.FlashLoanFeeBps)
}

func applyOracleConfig(agg *oracle.Aggregator, cfg config.OracleConfig) error {
	var admin common.Address
	if err := agg.UpdateFreshnessThreshold(admin, time.Duration(cfg.FreshnessSeconds)*time.Second); err != nil {
		return err
	}
	if err := agg.UpdateVolatilityWindow(admin, time.Duration(cfg.VolatilityWindowSeconds)*time.Second); err != nil {
		return err
	}
	if err := agg.UpdateVolatilityPercentage(admin, uint64(cfg.VolatilityPercentage)); err != nil {
		return err
	}
	if err := agg.UpdateCircuitBreakerThreshold(admin, uint64(cfg.CircuitBreakerPct)); err != nil {
		return err
	}
	return agg.UpdateMinimumOracles(admin, cfg.MinimumOracles)
}

// registerMarkets lists each manifest entry with the registry and, when a
// static dev price is supplied, binds an in-memory feed so price reads work
// without external oracle infrastructure.
func registerMarkets(reg *registry.Registry, agg *oracle.Aggregator, manifest *config.Manifest) ([]common.Address, error) {
	var admin common.Address
	assets := make([]common.Address, 0, len(manifest.Markets))
	for i := range manifest.Markets {
		market := &manifest.Markets[i]
		asset, err := market.AssetConfig()
		if err != nil {
			return nil, err
		}
		addr := market.TokenAddress()
		if err := reg.ListAsset(admin, addr, asset); err != nil {
			return nil, err
		}
		price, err := market.StaticPriceAmount()
		if err != nil {
			return nil, err
		}
		if price != nil {
			feed := oracle.NewStaticFeed(market.OracleDecimals)
			feed.Push(price, time.Now())
			if err := agg.SetChainlinkOracle(admin, addr, oracle.ChainlinkOracleConfig{Feed: feed, Active: true}); err != nil {
				return nil, err
			}
		}
		assets = append(assets, addr)
	}
	return assets, nil
}

type statusResponse struct {
	Protocol *lending.ProtocolSnapshot `json:"protocol"`
	Breakers map[string]bool           `json:"circuit_breakers"`
}

func (n *node) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snapshot, err := n.engine.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	observability.Engine().SetAggregates(snapshot.TotalBorrow, snapshot.TotalSuppliedLiquidity, snapshot.Utilization)

	breakers := make(map[string]bool, len(n.assets))
	for _, asset := range n.assets {
		broken := n.oracle.CircuitBroken(asset)
		breakers[asset.Hex()] = broken
		observability.Oracle().SetBreaker(asset.Hex(), broken)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statusResponse{Protocol: snapshot, Breakers: breakers}); err != nil {
		log.Printf("encode status: %v", err)
	}
}
