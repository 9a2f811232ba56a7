package domain

import "time"

// ZeroAddress marks an asset as the chain's native coin rather than an
// ERC-20 contract.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Asset is a tradeable token referenced by portfolio allocations. Everything
// except IsActive is immutable once an allocation points at the asset.
type Asset struct {
	ID          string
	Symbol      string // unique, e.g. "WBTC"
	Address     string // chain address; ZeroAddress for the native coin
	Decimals    int
	PriceFeedID string // oracle feed identifier
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsNative reports whether the asset is the chain's native coin.
func (a Asset) IsNative() bool {
	return a.Address == "" || a.Address == ZeroAddress
}
