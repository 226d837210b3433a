// Package transfer routes value transfers across the four asset
// classes, enforcing per-class authorization: native currency moves on
// the engine's ledger, token classes move through allowance-gated
// proxies with explicit operator allow-lists.
package transfer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/pkg/errors"
	"github.com/relicmarket/settlement/pkg/metrics"
)

// Registry resolves contract addresses to the token implementations the
// engine talks to. Contracts not registered do not implement the
// expected transfer interface.
type Registry struct {
	fungibles  map[common.Address]asset.FungibleToken
	uniques    map[common.Address]asset.UniqueToken
	multiUnits map[common.Address]asset.MultiUnitToken
}

// NewRegistry creates an empty contract registry.
func NewRegistry() *Registry {
	return &Registry{
		fungibles:  make(map[common.Address]asset.FungibleToken),
		uniques:    make(map[common.Address]asset.UniqueToken),
		multiUnits: make(map[common.Address]asset.MultiUnitToken),
	}
}

// RegisterFungible binds an ERC20-style contract.
func (r *Registry) RegisterFungible(addr common.Address, t asset.FungibleToken) {
	r.fungibles[addr] = t
}

// RegisterUnique binds an ERC721-style contract.
func (r *Registry) RegisterUnique(addr common.Address, t asset.UniqueToken) {
	r.uniques[addr] = t
}

// RegisterMultiUnit binds an ERC1155-style contract.
func (r *Registry) RegisterMultiUnit(addr common.Address, t asset.MultiUnitToken) {
	r.multiUnits[addr] = t
}

// Router routes a transfer of a given asset class from a holder to a
// recipient. It is the single choke point every payout and escrow leg
// goes through.
type Router struct {
	self       common.Address // the engine's own address, holds escrow
	native     NativeLedger
	tokenProxy *Proxy // gates unique and multi-unit transfers
	erc20Proxy *Proxy // gates fungible transfers
	registry   *Registry
	logger     *zap.Logger
}

// NewRouter wires a router. self must be allow-listed on both proxies
// before any token transfer can succeed.
func NewRouter(self common.Address, native NativeLedger, tokenProxy, erc20Proxy *Proxy, registry *Registry, logger *zap.Logger) *Router {
	return &Router{
		self:       self,
		native:     native,
		tokenProxy: tokenProxy,
		erc20Proxy: erc20Proxy,
		registry:   registry,
		logger:     logger.Named("transfer"),
	}
}

// EscrowAccount returns the address assets and funds are escrowed under.
func (r *Router) EscrowAccount() common.Address {
	return r.self
}

// Native returns the underlying native-currency ledger.
func (r *Router) Native() NativeLedger {
	return r.native
}

// Transfer moves a.Value of the asset from one holder to another.
func (r *Router) Transfer(a asset.Asset, from, to common.Address) error {
	var err error
	switch a.Class {
	case asset.ClassNative:
		err = r.transferNative(from, to, a.Value)
	case asset.ClassFungible:
		err = r.transferFungible(a.Data.Contract, from, to, a.Value)
	case asset.ClassUnique:
		err = r.transferUnique(a.Data.Contract, a.Data.TokenID, from, to)
	case asset.ClassMultiUnit:
		err = r.transferMultiUnit(a.Data.Contract, a.Data.TokenID, from, to, a.Value)
	default:
		err = errors.ErrUnsupportedAssetIface.WithDetail("unknown asset class %q", a.Class)
	}
	if err != nil {
		metrics.TransferFailures.WithLabelValues(string(a.Class)).Inc()
		return err
	}
	r.logger.Debug("transfer routed",
		zap.String("class", string(a.Class)),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("value", a.Value.String()),
	)
	return nil
}

func (r *Router) transferNative(from, to common.Address, amount decimal.Decimal) error {
	return r.native.Transfer(from, to, amount)
}

func (r *Router) transferFungible(contract, from, to common.Address, amount decimal.Decimal) error {
	if !r.erc20Proxy.IsOperator(r.self) {
		return errors.ErrNotAuthorizedOperator.WithDetail("engine %s not allow-listed on erc20 proxy", r.self.Hex())
	}
	token, ok := r.registry.fungibles[contract]
	if !ok {
		return errors.ErrUnsupportedAssetIface.WithDetail("contract %s is not a fungible token", contract.Hex())
	}
	// Holders grant allowance to the proxy. The engine's own escrow
	// holdings move without an allowance.
	if from != r.self && token.Allowance(from, r.erc20Proxy.Address()).LessThan(amount) {
		return errors.ErrAllowanceExceeded.WithDetail(
			"holder %s allowance below %s on %s", from.Hex(), amount, contract.Hex())
	}
	if token.BalanceOf(from).LessThan(amount) {
		return errors.ErrInsufficientFunds.WithDetail(
			"holder %s balance below %s on %s", from.Hex(), amount, contract.Hex())
	}
	return token.TransferFrom(from, to, amount)
}

func (r *Router) transferUnique(contract common.Address, tokenID *big.Int, from, to common.Address) error {
	if !r.tokenProxy.IsOperator(r.self) {
		return errors.ErrNotAuthorizedOperator.WithDetail("engine %s not allow-listed on token proxy", r.self.Hex())
	}
	token, ok := r.registry.uniques[contract]
	if !ok {
		return errors.ErrUnsupportedAssetIface.WithDetail("contract %s is not a unique token", contract.Hex())
	}
	owner, err := token.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if owner != from {
		return errors.ErrAllowanceExceeded.WithDetail(
			"token %s/%s not held by %s", contract.Hex(), tokenID, from.Hex())
	}
	return token.TransferFrom(from, to, tokenID)
}

func (r *Router) transferMultiUnit(contract common.Address, tokenID *big.Int, from, to common.Address, amount decimal.Decimal) error {
	if !r.tokenProxy.IsOperator(r.self) {
		return errors.ErrNotAuthorizedOperator.WithDetail("engine %s not allow-listed on token proxy", r.self.Hex())
	}
	token, ok := r.registry.multiUnits[contract]
	if !ok {
		return errors.ErrUnsupportedAssetIface.WithDetail("contract %s is not a multi-unit token", contract.Hex())
	}
	if token.BalanceOf(from, tokenID).LessThan(amount) {
		return errors.ErrAllowanceExceeded.WithDetail(
			"holder %s balance below %s for %s/%s", from.Hex(), amount, contract.Hex(), tokenID)
	}
	return token.SafeTransferFrom(from, to, tokenID, amount)
}

// CanCover reports whether holder can fund a transfer of the full
// asset value, without moving anything. Only currency classes can pay.
func (r *Router) CanCover(a asset.Asset, holder common.Address) error {
	switch a.Class {
	case asset.ClassNative:
		if r.native.BalanceOf(holder).LessThan(a.Value) {
			return errors.ErrInsufficientFunds.WithDetail(
				"account %s cannot cover %s", holder.Hex(), a.Value)
		}
		return nil
	case asset.ClassFungible:
		token, ok := r.registry.fungibles[a.Data.Contract]
		if !ok {
			return errors.ErrUnsupportedAssetIface.WithDetail("contract %s is not a fungible token", a.Data.Contract.Hex())
		}
		if holder != r.self && token.Allowance(holder, r.erc20Proxy.Address()).LessThan(a.Value) {
			return errors.ErrAllowanceExceeded.WithDetail(
				"holder %s allowance below %s", holder.Hex(), a.Value)
		}
		if token.BalanceOf(holder).LessThan(a.Value) {
			return errors.ErrInsufficientFunds.WithDetail(
				"holder %s balance below %s", holder.Hex(), a.Value)
		}
		return nil
	}
	return errors.ErrUnsupportedAssetIface.WithDetail("class %s cannot pay", a.Class)
}

// Supported reports whether the router can move the given asset: the
// class is known and, for token classes, the contract is registered.
func (r *Router) Supported(a asset.Asset) bool {
	switch a.Class {
	case asset.ClassNative:
		return true
	case asset.ClassFungible:
		_, ok := r.registry.fungibles[a.Data.Contract]
		return ok
	case asset.ClassUnique:
		_, ok := r.registry.uniques[a.Data.Contract]
		return ok
	case asset.ClassMultiUnit:
		_, ok := r.registry.multiUnits[a.Data.Contract]
		return ok
	}
	return false
}
