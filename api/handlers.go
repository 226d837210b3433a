package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/relicmarket/settlement/internal/auction"
	"github.com/relicmarket/settlement/pkg/errors"
)

type createAuctionRequest struct {
	Seller           string   `json:"seller" binding:"required"`
	Kind             string   `json:"kind" binding:"required"`
	Asset            assetDTO `json:"asset" binding:"required"`
	Currency         assetDTO `json:"currency" binding:"required"`
	ReservePrice     string   `json:"reserve_price"`
	StartingPrice    string   `json:"starting_price"`
	EndingPrice      string   `json:"ending_price"`
	DurationSeconds  int64    `json:"duration_seconds" binding:"required"`
	StartDate        int64    `json:"start_date"`
	ExtensionSeconds int64    `json:"extension_seconds"`
	FundsRecipient   string   `json:"funds_recipient"`
}

func (s *Server) createAuction(c *gin.Context) {
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrZeroAmount.WithDetail("bad request: %v", err))
		return
	}

	p := auction.CreateParams{
		Duration:        time.Duration(req.DurationSeconds) * time.Second,
		ExtensionPeriod: time.Duration(req.ExtensionSeconds) * time.Second,
	}
	var err error
	if p.Seller, err = parseAddress(req.Seller); err != nil {
		writeError(c, err)
		return
	}
	if p.Asset, err = req.Asset.toAsset(); err != nil {
		writeError(c, err)
		return
	}
	if p.Currency, err = req.Currency.toAsset(); err != nil {
		writeError(c, err)
		return
	}
	if req.FundsRecipient != "" {
		if p.FundsRecipient, err = parseAddress(req.FundsRecipient); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.StartDate != 0 {
		p.StartDate = time.Unix(req.StartDate, 0)
	}
	if p.Terms, err = termsFrom(req); err != nil {
		writeError(c, err)
		return
	}

	id, err := s.engine.CreateAuction(c.Request.Context(), p)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"auction_id": id})
}

func termsFrom(req createAuctionRequest) (auction.Terms, error) {
	switch auction.Kind(req.Kind) {
	case auction.KindClassic:
		return auction.ClassicTerms{}, nil
	case auction.KindReserve:
		reserve, err := parseAmount(req.ReservePrice)
		if err != nil {
			return nil, err
		}
		return auction.ReserveTerms{ReservePrice: reserve}, nil
	case auction.KindDutch:
		starting, err := parseAmount(req.StartingPrice)
		if err != nil {
			return nil, err
		}
		ending, err := parseAmount(req.EndingPrice)
		if err != nil {
			return nil, err
		}
		return auction.DutchTerms{StartingPrice: starting, EndingPrice: ending}, nil
	}
	return nil, errors.ErrUnsupportedAssetIface.WithDetail("unknown auction kind %q", req.Kind)
}

type createBidRequest struct {
	Bidder   string `json:"bidder" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	UseToken bool   `json:"use_token"`
	Attached string `json:"attached"`
}

func (s *Server) createBid(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req createBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrZeroAmount.WithDetail("bad request: %v", err))
		return
	}
	bidder, err := parseAddress(req.Bidder)
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	attached := decimal.Zero
	if req.Attached != "" {
		if attached, err = parseAmount(req.Attached); err != nil {
			writeError(c, err)
			return
		}
	}
	if err := s.engine.CreateBid(c.Request.Context(), bidder, id, amount, req.UseToken, attached); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction_id": id, "amount": amount.String()})
}

type callerRequest struct {
	Caller string `json:"caller" binding:"required"`
}

func (s *Server) cancelAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrNotAuthorized.WithDetail("bad request: %v", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.engine.CancelAuction(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req callerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrNotAuthorized.WithDetail("bad request: %v", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.engine.DeleteAuctionOnlyAdmin(c.Request.Context(), caller, id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type endAuctionRequest struct {
	Caller string   `json:"caller" binding:"required"`
	Left   orderDTO `json:"left" binding:"required"`
	Right  orderDTO `json:"right" binding:"required"`
}

func (s *Server) endAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req endAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrNotCompletable.WithDetail("bad request: %v", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(c, err)
		return
	}
	left, err := req.Left.toOrder()
	if err != nil {
		writeError(c, err)
		return
	}
	right, err := req.Right.toOrder()
	if err != nil {
		writeError(c, err)
		return
	}
	result, err := s.engine.EndAuctionDoTransfer(c.Request.Context(), caller, left, right, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type matchOrdersRequest struct {
	Caller   string   `json:"caller" binding:"required"`
	Left     orderDTO `json:"left" binding:"required"`
	Right    orderDTO `json:"right" binding:"required"`
	LeftSig  string   `json:"left_signature"`
	RightSig string   `json:"right_signature"`
	Attached string   `json:"attached"`
}

func (s *Server) matchOrders(c *gin.Context) {
	var req matchOrdersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.ErrAssetMismatch.WithDetail("bad request: %v", err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(c, err)
		return
	}
	left, err := req.Left.toOrder()
	if err != nil {
		writeError(c, err)
		return
	}
	right, err := req.Right.toOrder()
	if err != nil {
		writeError(c, err)
		return
	}
	leftSig, err := parseSignature(req.LeftSig)
	if err != nil {
		writeError(c, err)
		return
	}
	rightSig, err := parseSignature(req.RightSig)
	if err != nil {
		writeError(c, err)
		return
	}
	attached := decimal.Zero
	if req.Attached != "" {
		if attached, err = parseAmount(req.Attached); err != nil {
			writeError(c, err)
			return
		}
	}
	result, err := s.matcher.CheckDoTransfers(c.Request.Context(), caller, left, right, leftSig, rightSig, attached)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getAuction(c *gin.Context) {
	id, err := auctionID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := s.engine.Auction(id)
	if err != nil {
		writeError(c, err)
		return
	}
	view := auctionView(rec)
	view["current_price"] = rec.CurrentPrice(time.Now()).String()
	c.JSON(http.StatusOK, view)
}

func (s *Server) currentAuctionID(c *gin.Context) {
	id, err := s.engine.CurrentAuctionID()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auction_id": id})
}

func auctionID(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return 0, errors.ErrAuctionNotFound.WithDetail("bad auction id %q", c.Param("id"))
	}
	return id, nil
}

// auctionView flattens a record for JSON callers.
func auctionView(rec *auction.Record) gin.H {
	view := gin.H{
		"id":               rec.ID,
		"kind":             rec.Kind,
		"seller":           rec.Seller.Hex(),
		"asset_class":      rec.Asset.Class,
		"asset_contract":   rec.Asset.Data.Contract.Hex(),
		"asset_quantity":   rec.Asset.Value.String(),
		"currency_class":   rec.Currency.Class,
		"start_date":       rec.StartDate.Unix(),
		"end_date":         rec.EndDate.Unix(),
		"duration_seconds": int64(rec.Duration.Seconds()),
		"bidder":           rec.Bidder.Hex(),
		"bid_amount":       rec.BidAmount.String(),
	}
	if rec.Asset.Data.TokenID != nil {
		view["asset_token_id"] = rec.Asset.Data.TokenID.String()
	}
	switch t := rec.Terms.(type) {
	case auction.ReserveTerms:
		view["reserve_price"] = t.ReservePrice.String()
	case auction.DutchTerms:
		view["starting_price"] = t.StartingPrice.String()
		view["ending_price"] = t.EndingPrice.String()
		view["settlement_price"] = rec.SettlementPrice.String()
	}
	return view
}
