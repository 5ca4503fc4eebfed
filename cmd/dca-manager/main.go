package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mortycrypto/dca-manager/internal/config"
	"github.com/mortycrypto/dca-manager/internal/exchange"
	"github.com/mortycrypto/dca-manager/internal/httpapi"
	"github.com/mortycrypto/dca-manager/internal/keeper"
	"github.com/mortycrypto/dca-manager/internal/token"
	"github.com/mortycrypto/dca-manager/internal/vault"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgPath string
	verbose bool

	logger *zap.SugaredLogger
)

var rootCmd = &cobra.Command{
	Use:   "dca-manager",
	Short: "Single-owner DCA treasury: periodic purchases, custody controls, emergency unwind",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		l, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l.Sugar()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

// stack is everything a command needs to talk to the vault.
type stack struct {
	cfg    *config.Config
	ledger *token.ChainLedger
	vault  *vault.Vault
	client *ethclient.Client
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required (DCA_RPC_URL)")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required (DCA_PRIVATE_KEY)")
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	ledger, err := token.NewChainLedger(ctx, client, key)
	if err != nil {
		return nil, err
	}

	router, err := exchange.NewUniV2(cfg.RouterAddress(), ledger, exchange.UniV2Options{
		SlippageBps: cfg.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	owner := ledger.Account()
	if cfg.Owner != "" {
		owner = common.HexToAddress(cfg.Owner)
	}

	spend, _ := cfg.SpendAmountBig()
	v, err := vault.New(vault.Config{
		Owner:           owner,
		Self:            ledger.Account(),
		Router:          router,
		SettlementAsset: cfg.SettlementAddress(),
		SpendAmount:     spend,
		Assets:          cfg.AssetAddresses(),
		Ledger:          ledger,
		Emitter:         vault.LogEmitter{Log: logger},
		Log:             logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.AutoWithdraw {
		if err := v.UpdateAutoWithdraw(owner, true); err != nil {
			return nil, err
		}
	}

	return &stack{cfg: cfg, ledger: ledger, vault: v, client: client}, nil
}

// routerFactory lets the ops API and the router command build a candidate
// adapter from a bare address, with the same slippage settings as the active
// one.
func (st *stack) routerFactory() httpapi.RouterFactory {
	return func(addr common.Address) (exchange.Exchange, error) {
		return exchange.NewUniV2(addr, st.ledger, exchange.UniV2Options{
			SlippageBps: st.cfg.SlippageBps,
		})
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keeper loop and the ops HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Infow("dca-manager", "version", Version, "commit", Commit, "build_date", BuildDate)

		st, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer st.client.Close()

		k, err := keeper.New(st.vault, st.vault.Owner(), st.cfg.KeeperInterval, logger)
		if err != nil {
			return err
		}

		api := httpapi.NewServer(st.vault, st.ledger, st.cfg.APIToken, st.routerFactory(), logger)
		server := &http.Server{
			Addr:    st.cfg.ListenAddr,
			Handler: api.Handler(),
		}

		go func() {
			logger.Infow("ops API listening", "addr", st.cfg.ListenAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("HTTP server error", "error", err)
			}
		}()

		err = k.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			logger.Errorw("HTTP server shutdown failed", "error", serr)
		}

		if errors.Is(err, context.Canceled) {
			logger.Infow("shutdown signal received")
			return nil
		}
		return err
	},
}

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run one purchase cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()
		return st.vault.Work(cmd.Context(), st.vault.Owner())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print vault configuration and balances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := buildStack(ctx)
		if err != nil {
			return err
		}
		defer st.client.Close()

		v := st.vault
		fmt.Printf("owner:            %s\n", v.Owner().Hex())
		fmt.Printf("vault account:    %s\n", v.Account().Hex())
		fmt.Printf("router:           %s\n", v.Router().Address().Hex())
		fmt.Printf("settlement asset: %s\n", v.SettlementAsset().Hex())
		fmt.Printf("spend per cycle:  %s\n", v.SpendAmount())
		fmt.Printf("auto-withdraw:    %v\n", v.AutoWithdraw())

		native, err := st.ledger.BalanceOf(ctx, token.Native, v.Account())
		if err != nil {
			return err
		}
		fmt.Printf("native balance:   %s\n", native)

		for i, a := range v.Assets() {
			bal, err := st.ledger.BalanceOf(ctx, a.Token, v.Account())
			if err != nil {
				return err
			}
			fmt.Printf("asset[%d] %s balance %s\n", i, a.Token.Hex(), bal)
		}
		return nil
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw [token]",
	Short: "Withdraw a token (or the native balance with no argument) to the owner",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()

		tok := token.Native
		if len(args) == 1 {
			if tok, err = parseAddress(args[0]); err != nil {
				return err
			}
		}

		amountFlag, _ := cmd.Flags().GetString("amount")
		if amountFlag == "" {
			return st.vault.Withdraw(cmd.Context(), st.vault.Owner(), tok)
		}
		amount, err := parseAmount(amountFlag)
		if err != nil {
			return err
		}
		return st.vault.WithdrawAmount(cmd.Context(), st.vault.Owner(), tok, amount)
	},
}

var withdrawAllCmd = &cobra.Command{
	Use:   "withdraw-all",
	Short: "Withdraw every registered asset and the native balance to the owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()
		return st.vault.WithdrawAll(cmd.Context(), st.vault.Owner())
	},
}

var liquidateCmd = &cobra.Command{
	Use:   "liquidate <token>",
	Short: "Sell a token back into the settlement asset, proceeds to the owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()

		tok, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		amount := big.NewInt(0)
		if f, _ := cmd.Flags().GetString("amount"); f != "" {
			if amount, err = parseAmount(f); err != nil {
				return err
			}
		}
		return st.vault.LiquidateAsset(cmd.Context(), st.vault.Owner(), tok, amount)
	},
}

var panicCmd = &cobra.Command{
	Use:   "panic",
	Short: "Emergency unwind: liquidate everything into the settlement asset",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()
		return st.vault.Panic(cmd.Context(), st.vault.Owner())
	},
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Manage the asset registry",
}

var assetsAddCmd = &cobra.Command{
	Use:   "add <token>",
	Short: "Register a new asset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()

		tok, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		return st.vault.AddAsset(st.vault.Owner(), tok)
	},
}

var assetsRemoveCmd = &cobra.Command{
	Use:   "remove <index>",
	Short: "Remove the asset at index (swap-and-pop; indices shift)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()

		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}
		withdraw, _ := cmd.Flags().GetBool("withdraw")
		return st.vault.RemoveAsset(cmd.Context(), st.vault.Owner(), index, withdraw)
	},
}

var routerCmd = &cobra.Command{
	Use:   "router <address>",
	Short: "Switch to a new exchange router (the candidate is probed first)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()

		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		candidate, err := st.routerFactory()(addr)
		if err != nil {
			return err
		}
		return st.vault.UpdateRouter(cmd.Context(), st.vault.Owner(), candidate)
	},
}

var autoWithdrawCmd = &cobra.Command{
	Use:   "auto-withdraw <on|off>",
	Short: "Route purchase proceeds straight to the owner (or back to the vault)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
			enabled = false
		default:
			return fmt.Errorf("argument must be on or off")
		}

		st, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		defer st.client.Close()
		return st.vault.UpdateAutoWithdraw(st.vault.Owner(), enabled)
	},
}

func parseAddress(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not an address", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%q is not a non-negative integer", raw)
	}
	return n, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	withdrawCmd.Flags().String("amount", "", "raw units to withdraw (default: entire balance)")
	liquidateCmd.Flags().String("amount", "", "raw units to sell (default: entire balance)")
	assetsRemoveCmd.Flags().Bool("withdraw", false, "sweep the asset's balance to the owner first")

	assetsCmd.AddCommand(assetsAddCmd, assetsRemoveCmd)
	rootCmd.AddCommand(serveCmd, workCmd, statusCmd, withdrawCmd, withdrawAllCmd, liquidateCmd, panicCmd, assetsCmd, autoWithdrawCmd, routerCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
