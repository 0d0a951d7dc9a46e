package market

import "unicode"

// AssetClass identifies the instrument category for scoring purposes
type AssetClass string

const (
	AssetClassStock AssetClass = "stock"
	AssetClassForex AssetClass = "forex"
)

// VolumeReliability expresses how trustworthy reported volume is for an asset class
type VolumeReliability string

const (
	VolumeReliabilityHigh VolumeReliability = "HIGH"
	VolumeReliabilityLow  VolumeReliability = "LOW"
)

// ClassifyAsset determines the asset class of a symbol. Six alphabetic
// characters (EURUSD, GBPJPY, ...) classify as forex; everything else
// is treated as a stock.
func ClassifyAsset(symbol string) AssetClass {
	if len(symbol) != 6 {
		return AssetClassStock
	}
	for _, r := range symbol {
		if !unicode.IsLetter(r) {
			return AssetClassStock
		}
	}
	return AssetClassForex
}
