package model

import "time"

// IndexRow is one point of the market-breadth index: the simple mean of every
// contributing symbol's percent change against its base price, plus
// advance/decline statistics, for a single five-minute bucket.
type IndexRow struct {
	BucketStart time.Time `json:"bucketStart"`
	IndexValue  float64   `json:"indexValue"`  // mean percent change
	TotalVolume float64   `json:"totalVolume"` // sum of quote volumes
	CoinCount   int       `json:"coinCount"`   // contributing symbols
	UpCount     int       `json:"upCount"`
	DownCount   int       `json:"downCount"`
	ADR         float64   `json:"adr"` // up/down, or up when down == 0
}

// BasePrice is the fixed reference price of one symbol. Every percent change
// for the symbol is measured against Price until the base is revoked.
type BasePrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"createdAt"`
}
