// Package asset defines the asset vocabulary of the settlement engine:
// the four transferable asset classes, the data identifying a concrete
// asset, and the interfaces of the external token and royalty contracts
// the engine consumes.
package asset

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Class tags an asset with its transfer semantics.
type Class string

const (
	// ClassNative is the chain's native currency.
	ClassNative Class = "ETH"
	// ClassFungible is an ERC20-style fungible token.
	ClassFungible Class = "ERC20"
	// ClassUnique is an ERC721-style unique token.
	ClassUnique Class = "ERC721"
	// ClassMultiUnit is an ERC1155-style semi-fungible token.
	ClassMultiUnit Class = "ERC1155"
)

// Valid reports whether c is one of the four known classes.
func (c Class) Valid() bool {
	switch c {
	case ClassNative, ClassFungible, ClassUnique, ClassMultiUnit:
		return true
	}
	return false
}

// IsCurrency reports whether the class can act as the payment leg of a
// trade.
func (c Class) IsCurrency() bool {
	return c == ClassNative || c == ClassFungible
}

// Data identifies the concrete asset within a class. For the native
// class both fields are zero. TokenID is nil for fungible tokens.
type Data struct {
	Contract common.Address `json:"contract"`
	TokenID  *big.Int       `json:"token_id,omitempty"`
}

// Asset is one leg of a trade: a class, the data identifying the asset,
// and a value (currency amount or token quantity).
type Asset struct {
	Class Class           `json:"asset_class"`
	Data  Data            `json:"asset_data"`
	Value decimal.Decimal `json:"value"`
}

// Part is a (recipient, basis points) pair. Royalty registries return
// parts; order data carries parts for payouts and origin fees.
type Part struct {
	Account     common.Address `json:"account"`
	BasisPoints int64          `json:"basis_points"`
}

// RoyaltyRegistry is the external royalty lookup consumed on every sale
// of a token.
type RoyaltyRegistry interface {
	GetRoyalties(contract common.Address, tokenID *big.Int) ([]Part, error)
}

// FungibleToken is the ERC20-style contract surface the engine consumes.
// TransferFrom is allowance-gated on the token side; Allowance lets the
// router fail fast with a stable reason instead of a contract revert.
type FungibleToken interface {
	BalanceOf(owner common.Address) decimal.Decimal
	Allowance(owner, spender common.Address) decimal.Decimal
	TransferFrom(from, to common.Address, amount decimal.Decimal) error
}

// UniqueToken is the ERC721-style contract surface.
type UniqueToken interface {
	OwnerOf(tokenID *big.Int) (common.Address, error)
	TransferFrom(from, to common.Address, tokenID *big.Int) error
}

// MultiUnitToken is the ERC1155-style contract surface.
type MultiUnitToken interface {
	BalanceOf(owner common.Address, tokenID *big.Int) decimal.Decimal
	SafeTransferFrom(from, to common.Address, tokenID *big.Int, amount decimal.Decimal) error
}

// ZeroAddress is the empty address, used as the no-bidder and
// any-taker marker.
var ZeroAddress = common.Address{}
