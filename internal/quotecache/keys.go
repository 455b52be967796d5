package quotecache

import (
	"strings"
	"time"
)

// Cache key bases.
const (
	KeyLendingRates    = "mars:jupiter:rates"
	KeyVaultMarkets    = "mars:kamino:markets"
	KeyVaultStrategies = "mars:kamino:strategies"
	KeyOptimization    = "mars:optimization:result"
	KeyWithdrawPaths   = "mars:withdraw:paths"
	KeyFeesEstimate    = "mars:fees:estimate"
	KeyProviderHealth  = "mars:provider:health"
)

// TTLs per key base.
const (
	TTLLendingRates    = 300 * time.Second
	TTLVaultMarkets    = 600 * time.Second
	TTLVaultStrategies = 1800 * time.Second
	TTLOptimization    = 120 * time.Second
	TTLWithdrawPaths   = 900 * time.Second
	TTLFeesEstimate    = 180 * time.Second
	TTLProviderHealth  = 30 * time.Second
)

// UserKey scopes base to a user address.
func UserKey(base, user string) string {
	return base + ":" + user
}

// AssetKey scopes base to an asset symbol.
func AssetKey(base, asset string) string {
	return base + ":" + strings.ToUpper(asset)
}

// CompositeKey joins base and parts with ':'.
func CompositeKey(base string, parts ...string) string {
	return strings.Join(append([]string{base}, parts...), ":")
}
