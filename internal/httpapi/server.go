// Package httpapi is the local ops surface: read-only vault status plus the
// owner's custody controls over HTTP. It is meant to be bound to loopback;
// mutating routes require the configured bearer token and act with the
// owner's identity.
package httpapi

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mortycrypto/dca-manager/internal/exchange"
	"github.com/mortycrypto/dca-manager/internal/token"
	"github.com/mortycrypto/dca-manager/internal/vault"
)

// RouterFactory builds an exchange adapter for a candidate router address.
// The vault still probes the result before accepting it.
type RouterFactory func(addr common.Address) (exchange.Exchange, error)

type Server struct {
	vault     *vault.Vault
	ledger    token.Ledger
	token     string
	newRouter RouterFactory
	log       *zap.SugaredLogger
}

func NewServer(v *vault.Vault, ledger token.Ledger, apiToken string, newRouter RouterFactory, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{vault: v, ledger: ledger, token: apiToken, newRouter: newRouter, log: log}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/assets", s.handleListAssets)

	auth := v1.Group("", s.requireToken)
	auth.POST("/work", s.handleWork)
	auth.POST("/withdraw", s.handleWithdraw)
	auth.POST("/withdraw-all", s.handleWithdrawAll)
	auth.POST("/liquidate", s.handleLiquidate)
	auth.POST("/panic", s.handlePanic)
	auth.POST("/assets", s.handleAddAsset)
	auth.DELETE("/assets/:index", s.handleRemoveAsset)
	auth.PUT("/auto-withdraw", s.handleAutoWithdraw)
	auth.PUT("/router", s.handleUpdateRouter)

	return r
}

func (s *Server) requireToken(c *gin.Context) {
	if s.token == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "mutating API disabled: no api_token configured"})
		return
	}
	got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if got != s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bad token"})
		return
	}
	c.Next()
}

type statusResponse struct {
	Owner           string `json:"owner"`
	VaultAccount    string `json:"vault_account"`
	Router          string `json:"router"`
	SettlementAsset string `json:"settlement_asset"`
	SpendAmount     string `json:"spend_amount"`
	AutoWithdraw    bool   `json:"auto_withdraw"`
	AssetsLength    int    `json:"assets_length"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Owner:           s.vault.Owner().Hex(),
		VaultAccount:    s.vault.Account().Hex(),
		Router:          s.vault.Router().Address().Hex(),
		SettlementAsset: s.vault.SettlementAsset().Hex(),
		SpendAmount:     s.vault.SpendAmount().String(),
		AutoWithdraw:    s.vault.AutoWithdraw(),
		AssetsLength:    s.vault.AssetsLength(),
	})
}

type assetResponse struct {
	Index   int    `json:"index"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) handleListAssets(c *gin.Context) {
	assets := s.vault.Assets()
	out := make([]assetResponse, 0, len(assets))
	for i, a := range assets {
		bal, err := s.ledger.BalanceOf(c.Request.Context(), a.Token, s.vault.Account())
		if err != nil {
			s.fail(c, err)
			return
		}
		out = append(out, assetResponse{Index: i, Token: a.Token.Hex(), Balance: bal.String()})
	}
	c.JSON(http.StatusOK, gin.H{"assets": out})
}

func (s *Server) handleWork(c *gin.Context) {
	if err := s.vault.Work(c.Request.Context(), s.vault.Owner()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type withdrawRequest struct {
	Token  string `json:"token"`  // empty or zero address = native
	Amount string `json:"amount"` // empty = entire balance
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, ok := parseToken(c, req.Token)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	owner := s.vault.Owner()
	if strings.TrimSpace(req.Amount) == "" {
		if err := s.vault.Withdraw(ctx, owner, tok); err != nil {
			s.fail(c, err)
			return
		}
	} else {
		amount, ok := parseAmount(c, req.Amount)
		if !ok {
			return
		}
		if err := s.vault.WithdrawAmount(ctx, owner, tok, amount); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleWithdrawAll(c *gin.Context) {
	if err := s.vault.WithdrawAll(c.Request.Context(), s.vault.Owner()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type liquidateRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"` // empty or "0" = entire balance
}

func (s *Server) handleLiquidate(c *gin.Context) {
	var req liquidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, ok := parseToken(c, req.Token)
	if !ok {
		return
	}
	amount := big.NewInt(0)
	if strings.TrimSpace(req.Amount) != "" {
		if amount, ok = parseAmount(c, req.Amount); !ok {
			return
		}
	}
	if err := s.vault.LiquidateAsset(c.Request.Context(), s.vault.Owner(), tok, amount); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handlePanic(c *gin.Context) {
	if err := s.vault.Panic(c.Request.Context(), s.vault.Owner()); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type addAssetRequest struct {
	Token string `json:"token" binding:"required"`
}

func (s *Server) handleAddAsset(c *gin.Context) {
	var req addAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, ok := parseToken(c, req.Token)
	if !ok {
		return
	}
	if err := s.vault.AddAsset(s.vault.Owner(), tok); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "assets_length": s.vault.AssetsLength()})
}

func (s *Server) handleRemoveAsset(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	withdraw := c.Query("withdraw") == "true"
	if err := s.vault.RemoveAsset(c.Request.Context(), s.vault.Owner(), index, withdraw); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "assets_length": s.vault.AssetsLength()})
}

type autoWithdrawRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutoWithdraw(c *gin.Context) {
	var req autoWithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.vault.UpdateAutoWithdraw(s.vault.Owner(), req.Enabled); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "auto_withdraw": s.vault.AutoWithdraw()})
}

type updateRouterRequest struct {
	Router string `json:"router" binding:"required"`
}

func (s *Server) handleUpdateRouter(c *gin.Context) {
	if s.newRouter == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "router updates are not available on this deployment"})
		return
	}
	var req updateRouterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Router) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "router is not an address"})
		return
	}

	candidate, err := s.newRouter(common.HexToAddress(req.Router))
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.vault.UpdateRouter(c.Request.Context(), s.vault.Owner(), candidate); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "router": s.vault.Router().Address().Hex()})
}

// fail maps the vault error taxonomy onto HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway // external failure by default
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrIndexOutOfRange),
		errors.Is(err, vault.ErrInvalidAsset),
		errors.Is(err, vault.ErrInvalidExchange):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrVaultBusy):
		status = http.StatusConflict
	}
	s.log.Warnw("request failed", "path", c.FullPath(), "status", status, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseToken(c *gin.Context, raw string) (common.Address, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return token.Native, true
	}
	if !common.IsHexAddress(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is not an address"})
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(c *gin.Context, raw string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || n.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount is not a non-negative integer"})
		return nil, false
	}
	return n, true
}
