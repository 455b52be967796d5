package jupiter

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexFloat unmarshals from a JSON number or a numeric string. The earn API
// has sent rates and totals both ways.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APIAsset is the underlying token of an earn market.
type APIAsset struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// APIEarnToken is one market from GET /lend/v1/earn/tokens.
type APIEarnToken struct {
	ID          int       `json:"id"`
	Address     string    `json:"address"`
	Symbol      string    `json:"symbol"`
	Asset       APIAsset  `json:"asset"`
	TotalRate   flexFloat `json:"totalRate"`
	SupplyRate  flexFloat `json:"supplyRate"`
	TotalAssets flexFloat `json:"totalAssets"`
}

// AssetSymbol returns the normalized symbol of the underlying asset.
func (t APIEarnToken) AssetSymbol() string {
	s := t.Asset.Symbol
	if s == "" {
		s = t.Symbol
	}
	return normalizeAsset(s)
}

// APYPercent converts the basis-point totalRate to percent.
func (t APIEarnToken) APYPercent() float64 {
	return float64(t.TotalRate) / 100
}

// earnRequest is the body of the deposit and withdraw endpoints. Amount is in
// the asset's base units.
type earnRequest struct {
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	Signer        string `json:"signer"`
	UserPublicKey string `json:"userPublicKey"`
}

type earnResponse struct {
	Transaction string `json:"transaction"`
}

func normalizeAsset(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WSOL" {
		return "SOL"
	}
	return s
}

// mintInfo is the SPL mint and decimals for a supported asset.
type mintInfo struct {
	Mint     string
	Decimals int32
}

var mints = map[string]mintInfo{
	"USDC": {Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6},
	"USDT": {Mint: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Decimals: 6},
	"SOL":  {Mint: "So11111111111111111111111111111111111111112", Decimals: 9},
}
