package domain

import (
	"regexp"
	"strings"
)

// Market identifies the exchange a symbol trades on.
type Market string

const (
	MarketUS      Market = "US"
	MarketHK      Market = "HK"
	MarketSH      Market = "SH"
	MarketSZ      Market = "SZ"
	MarketKCB     Market = "KCB_SH"
	MarketETFSH   Market = "ETF_SH"
	MarketETFSZ   Market = "ETF_SZ"
	MarketUnknown Market = "UNKNOWN"
)

var (
	reHK    = regexp.MustCompile(`^\d{4,5}$`)
	reSH    = regexp.MustCompile(`^60\d{4}$`)
	reSZ    = regexp.MustCompile(`^(00|30)\d{4}$`)
	reKCB   = regexp.MustCompile(`^68\d{4}$`)
	reETFSH = regexp.MustCompile(`^5[168]\d{4}$`)
	reETFSZ = regexp.MustCompile(`^15\d{4}$`)
)

// DetectMarket splits a symbol such as "AAPL.US", "06966.HK" or "600745"
// into its code and market. Mainland codes may omit the suffix; when a
// suffix is present it must agree with the code.
func DetectMarket(symbol string) (string, Market) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	code, suffix := symbol, ""
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		code, suffix = symbol[:i], symbol[i+1:]
	}

	switch {
	case suffix == "US" && len(code) <= 5:
		return code, MarketUS
	case suffix == "HK" && reHK.MatchString(code):
		return code, MarketHK
	case reSH.MatchString(code) && (suffix == "SH" || suffix == ""):
		return code, MarketSH
	case reSZ.MatchString(code) && (suffix == "SZ" || suffix == ""):
		return code, MarketSZ
	case reKCB.MatchString(code) && (suffix == "SH" || suffix == ""):
		return code, MarketKCB
	case reETFSH.MatchString(code) && (suffix == "SH" || suffix == ""):
		return code, MarketETFSH
	case reETFSZ.MatchString(code) && (suffix == "SZ" || suffix == ""):
		return code, MarketETFSZ
	}
	return code, MarketUnknown
}
