// Package api exposes the settlement operations over HTTP. Amounts are
// decimal strings and addresses are hex throughout; errors come back as
// problem+json with the stable reason code.
package api

import (
	"math/big"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/internal/auction"
	"github.com/relicmarket/settlement/internal/order"
	"github.com/relicmarket/settlement/pkg/errors"
)

// Server binds the auction engine and the order matcher to HTTP routes.
type Server struct {
	engine  *auction.Engine
	matcher *order.Matcher
	logger  *zap.Logger
}

// NewServer creates the HTTP surface.
func NewServer(engine *auction.Engine, matcher *order.Matcher, logger *zap.Logger) *Server {
	return &Server{engine: engine, matcher: matcher, logger: logger.Named("api")}
}

// Router builds the gin engine with logging middleware and all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	v1 := r.Group("/v1")
	{
		v1.POST("/auctions", s.createAuction)
		v1.GET("/auctions/current-id", s.currentAuctionID)
		v1.GET("/auctions/:id", s.getAuction)
		v1.POST("/auctions/:id/bids", s.createBid)
		v1.POST("/auctions/:id/cancel", s.cancelAuction)
		v1.POST("/auctions/:id/end", s.endAuction)
		v1.POST("/admin/auctions/:id/delete", s.deleteAuction)
		v1.POST("/orders/match", s.matchOrders)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// --- wire DTOs ---

type partDTO struct {
	Account     string `json:"account" binding:"required"`
	BasisPoints int64  `json:"basis_points" binding:"required"`
}

func (d partDTO) toPart() (asset.Part, error) {
	addr, err := parseAddress(d.Account)
	if err != nil {
		return asset.Part{}, err
	}
	return asset.Part{Account: addr, BasisPoints: d.BasisPoints}, nil
}

type assetDTO struct {
	Class    string `json:"class" binding:"required"`
	Contract string `json:"contract"`
	TokenID  string `json:"token_id"`
	Value    string `json:"value"`
}

func (d assetDTO) toAsset() (asset.Asset, error) {
	class := asset.Class(d.Class)
	if !class.Valid() {
		return asset.Asset{}, errors.ErrUnsupportedAssetIface.WithDetail("unknown class %q", d.Class)
	}
	a := asset.Asset{Class: class}
	if d.Contract != "" {
		addr, err := parseAddress(d.Contract)
		if err != nil {
			return asset.Asset{}, err
		}
		a.Data.Contract = addr
	}
	if d.TokenID != "" {
		tokenID, ok := new(big.Int).SetString(d.TokenID, 10)
		if !ok {
			return asset.Asset{}, errors.ErrUnsupportedAssetIface.WithDetail("bad token id %q", d.TokenID)
		}
		a.Data.TokenID = tokenID
	}
	if d.Value != "" {
		v, err := decimal.NewFromString(d.Value)
		if err != nil {
			return asset.Asset{}, errors.ErrZeroAmount.WithDetail("bad value %q", d.Value)
		}
		a.Value = v
	}
	return a, nil
}

type orderDTO struct {
	Maker     string   `json:"maker" binding:"required"`
	Taker     string   `json:"taker"`
	MakeAsset assetDTO `json:"make_asset" binding:"required"`
	TakeAsset assetDTO `json:"take_asset" binding:"required"`
	Salt      uint64   `json:"salt"`
	Start     int64    `json:"start"`
	End       int64    `json:"end"`
	DataType  string   `json:"data_type"`
	Data      struct {
		Payouts    []partDTO `json:"payouts"`
		OriginFees []partDTO `json:"origin_fees"`
	} `json:"data"`
}

func (d orderDTO) toOrder() (order.Order, error) {
	o := order.Order{Salt: d.Salt, Start: d.Start, End: d.End, DataType: order.DataTypeNone}
	var err error
	if o.Maker, err = parseAddress(d.Maker); err != nil {
		return order.Order{}, err
	}
	if d.Taker != "" {
		if o.Taker, err = parseAddress(d.Taker); err != nil {
			return order.Order{}, err
		}
	}
	if o.MakeAsset, err = d.MakeAsset.toAsset(); err != nil {
		return order.Order{}, err
	}
	if o.TakeAsset, err = d.TakeAsset.toAsset(); err != nil {
		return order.Order{}, err
	}
	if d.DataType != "" {
		o.DataType = order.DataType(d.DataType)
	}
	for _, p := range d.Data.Payouts {
		part, err := p.toPart()
		if err != nil {
			return order.Order{}, err
		}
		o.Data.Payouts = append(o.Data.Payouts, part)
	}
	for _, p := range d.Data.OriginFees {
		part, err := p.toPart()
		if err != nil {
			return order.Order{}, err
		}
		o.Data.OriginFees = append(o.Data.OriginFees, part)
	}
	return o, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.ErrNotAuthorized.WithDetail("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, errors.ErrZeroAmount.WithDetail("bad amount %q", s)
	}
	return v, nil
}

func parseSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, errors.ErrInvalidSignature.WithDetail("bad signature encoding")
	}
	return sig, nil
}
