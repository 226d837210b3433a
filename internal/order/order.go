// Package order defines the immutable order value objects of the
// direct-matching path and the validation of a matched pair: two
// mirrored asset-for-asset legs settled through the fee distributor
// without escrow.
package order

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/relicmarket/settlement/internal/asset"
	"github.com/relicmarket/settlement/pkg/errors"
)

// DataType signals how the opaque order data is to be interpreted.
type DataType string

const (
	// DataTypeNone carries no extra data.
	DataTypeNone DataType = "NONE"
	// DataTypeV1 carries payout and origin-fee entries.
	DataTypeV1 DataType = "V1"
)

// Data is the extended order payload: an optional payout override and
// referral (origin) fee entries, both additive to protocol and royalty
// fees.
type Data struct {
	Payouts    []asset.Part `json:"payouts,omitempty"`
	OriginFees []asset.Part `json:"origin_fees,omitempty"`
}

// Order is one side of a bilateral exchange. Orders are value objects:
// they exist for the duration of a matching call and are not persisted.
type Order struct {
	Maker common.Address `json:"maker"`
	// Taker restricts who may fill the order; the zero address means
	// any taker.
	Taker     common.Address `json:"taker"`
	MakeAsset asset.Asset    `json:"make_asset"`
	TakeAsset asset.Asset    `json:"take_asset"`
	Salt      uint64         `json:"salt"`
	// Start and End bound the validity window as unix seconds; zero
	// means unbounded on that side.
	Start    int64    `json:"start"`
	End      int64    `json:"end"`
	DataType DataType `json:"data_type"`
	Data     Data     `json:"data"`
}

// InWindow reports whether the order is valid at the given time.
func (o Order) InWindow(now time.Time) bool {
	ts := now.Unix()
	if o.Start != 0 && ts < o.Start {
		return false
	}
	if o.End != 0 && ts > o.End {
		return false
	}
	return true
}

// Hash computes the canonical digest signed by the maker. The encoding
// is length-prefixed field concatenation, so no two distinct orders
// share an encoding.
func (o Order) Hash() common.Hash {
	var buf []byte
	appendBytes := func(b []byte) {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(b)))
		buf = append(buf, n[:]...)
		buf = append(buf, b...)
	}
	appendAsset := func(a asset.Asset) {
		appendBytes([]byte(a.Class))
		appendBytes(a.Data.Contract.Bytes())
		if a.Data.TokenID != nil {
			appendBytes(a.Data.TokenID.Bytes())
		} else {
			appendBytes(nil)
		}
		appendBytes([]byte(a.Value.String()))
	}

	appendBytes(o.Maker.Bytes())
	appendBytes(o.Taker.Bytes())
	appendAsset(o.MakeAsset)
	appendAsset(o.TakeAsset)

	var scalar [8]byte
	binary.BigEndian.PutUint64(scalar[:], o.Salt)
	appendBytes(scalar[:])
	binary.BigEndian.PutUint64(scalar[:], uint64(o.Start))
	appendBytes(scalar[:])
	binary.BigEndian.PutUint64(scalar[:], uint64(o.End))
	appendBytes(scalar[:])

	appendBytes([]byte(o.DataType))
	for _, p := range o.Data.Payouts {
		appendBytes(p.Account.Bytes())
		binary.BigEndian.PutUint64(scalar[:], uint64(p.BasisPoints))
		appendBytes(scalar[:])
	}
	for _, p := range o.Data.OriginFees {
		appendBytes(p.Account.Bytes())
		binary.BigEndian.PutUint64(scalar[:], uint64(p.BasisPoints))
		appendBytes(scalar[:])
	}

	return crypto.Keccak256Hash(buf)
}

// VerifySignature checks that sig is the maker's secp256k1 signature
// over the order hash.
func VerifySignature(o Order, sig []byte) error {
	if len(sig) != crypto.SignatureLength {
		return errors.ErrInvalidSignature.WithDetail("signature length %d", len(sig))
	}
	pub, err := crypto.SigToPub(o.Hash().Bytes(), sig)
	if err != nil {
		return errors.ErrInvalidSignature.WithDetail("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != o.Maker {
		return errors.ErrInvalidSignature.WithDetail("signer is not the maker")
	}
	return nil
}

// ValidatePair checks that two orders mirror each other: each side's
// make leg is the other side's take leg, taker restrictions hold, both
// windows include now, and no leg value is zero.
func ValidatePair(left, right Order, now time.Time) error {
	if !sameAsset(left.MakeAsset, right.TakeAsset) || !sameAsset(left.TakeAsset, right.MakeAsset) {
		return errors.ErrAssetMismatch.WithDetail("order legs do not mirror")
	}
	if left.Taker != asset.ZeroAddress && left.Taker != right.Maker {
		return errors.ErrNotAuthorized.WithDetail("right maker is not the designated taker")
	}
	if right.Taker != asset.ZeroAddress && right.Taker != left.Maker {
		return errors.ErrNotAuthorized.WithDetail("left maker is not the designated taker")
	}
	if !left.InWindow(now) || !right.InWindow(now) {
		return errors.ErrOrderWindowClosed
	}
	if !left.MakeAsset.Value.IsPositive() || !left.TakeAsset.Value.IsPositive() {
		return errors.ErrZeroAmount.WithDetail("order leg value must be positive")
	}
	return nil
}

func sameAsset(a, b asset.Asset) bool {
	if a.Class != b.Class || a.Data.Contract != b.Data.Contract {
		return false
	}
	if (a.Data.TokenID == nil) != (b.Data.TokenID == nil) {
		return false
	}
	if a.Data.TokenID != nil && a.Data.TokenID.Cmp(b.Data.TokenID) != 0 {
		return false
	}
	return a.Value.Equal(b.Value)
}

// OriginFees merges the origin entries of both orders, left first.
func OriginFees(left, right Order) []asset.Part {
	var origins []asset.Part
	if left.DataType == DataTypeV1 {
		origins = append(origins, left.Data.OriginFees...)
	}
	if right.DataType == DataTypeV1 {
		origins = append(origins, right.Data.OriginFees...)
	}
	return origins
}

// PayoutRecipient resolves where the selling side's residual goes: the
// single full payout override when the order carries one, otherwise the
// maker itself. Partial payout splits are rejected; the residual is a
// single leg by construction.
func PayoutRecipient(o Order) (common.Address, error) {
	if o.DataType != DataTypeV1 || len(o.Data.Payouts) == 0 {
		return o.Maker, nil
	}
	if len(o.Data.Payouts) == 1 && o.Data.Payouts[0].BasisPoints == 10000 {
		return o.Data.Payouts[0].Account, nil
	}
	return asset.ZeroAddress, errors.ErrBasisPointsOverflow.WithDetail(
		"payout override must be a single full-share entry")
}
