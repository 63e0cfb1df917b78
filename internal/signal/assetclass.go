package signal

import (
	"regexp"
	"strings"
)

// AssetClass groups instruments by how brokers support them.
type AssetClass string

const (
	AssetCrypto  AssetClass = "crypto"
	AssetForex   AssetClass = "forex"
	AssetFutures AssetClass = "futures"
	AssetOptions AssetClass = "options"
	AssetStocks  AssetClass = "stocks"
)

var (
	forexPattern   = regexp.MustCompile(`^[A-Z]{6}$`)
	futuresPattern = regexp.MustCompile(`^[A-Z]{1,3}[FGHJKMNQUVXZ][0-9]{1,2}$`)
	optionPattern  = regexp.MustCompile(`^[A-Z.]+ +[0-9]{6} *[CP]|^[A-Z.]+ +[CP] *[0-9]{6}|^[A-Z]{1,6}[0-9]{6}[CP][0-9]+$`)
	cryptoMarkers  = []string{"USDT", "BTC", "ETH"}
)

// ParseAssetClass accepts a known asset class name.
func ParseAssetClass(raw string) (AssetClass, bool) {
	switch c := AssetClass(strings.ToLower(strings.TrimSpace(raw))); c {
	case AssetCrypto, AssetForex, AssetFutures, AssetOptions, AssetStocks:
		return c, true
	}
	return "", false
}

// ClassifyAssetClass derives the asset class from a raw symbol. Precedence:
// crypto markers, six-letter forex pair, futures contract month code, option
// contract, then stocks.
func ClassifyAssetClass(symbol string) AssetClass {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return AssetStocks
	}
	if isCryptoSymbol(s) {
		return AssetCrypto
	}
	if forexPattern.MatchString(s) {
		return AssetForex
	}
	if futuresPattern.MatchString(s) {
		return AssetFutures
	}
	if optionPattern.MatchString(s) {
		return AssetOptions
	}
	return AssetStocks
}

func isCryptoSymbol(s string) bool {
	if base, quote, ok := strings.Cut(s, "/"); ok {
		for _, m := range cryptoMarkers {
			if base == m || quote == m {
				return true
			}
		}
		return false
	}
	if strings.Contains(s, " ") {
		return false
	}
	if strings.Contains(s, "USDT") {
		return true
	}
	for _, m := range cryptoMarkers {
		if strings.HasSuffix(s, m) {
			return true
		}
		// BTCUSD, ETHEUR: a coin quoted in fiat.
		if len(s) >= 6 && strings.HasPrefix(s, m) {
			return true
		}
	}
	return false
}
