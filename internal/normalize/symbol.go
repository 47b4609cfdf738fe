package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Canonical option symbols look like NIFTY16SEP2524950CE:
// underlying + DD + MMM + YY + strike + CE/PE.
//
// Fyers encodes the same contract as NSE:NIFTY2591624950CE:
// exchange + underlying + YY + month-token + DD + strike + CE/PE, where the
// month token is 1–9 for Jan–Sep and O/N/D for Oct/Nov/Dec.
//
// Zerodha keeps the canonical token order under the NFO: prefix.
var (
	canonicalOptionRe = regexp.MustCompile(`^([A-Z]+)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)$`)
	fyersOptionRe     = regexp.MustCompile(`^(?:NSE|BSE):([A-Z]+)(\d{2})([1-9OND])(\d{2})(\d+)(CE|PE)$`)
	zerodhaOptionRe   = regexp.MustCompile(`^(?:NFO|BFO):([A-Z]+)(\d{2})([A-Z]{3})(\d{2})(\d+)(CE|PE)$`)
)

var monthNames = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// monthToken returns the single-character fyers month encoding.
func monthToken(m time.Month) string {
	switch m {
	case time.October:
		return "O"
	case time.November:
		return "N"
	case time.December:
		return "D"
	}
	return fmt.Sprintf("%d", int(m))
}

func monthFromToken(tok string) (time.Month, bool) {
	switch tok {
	case "O":
		return time.October, true
	case "N":
		return time.November, true
	case "D":
		return time.December, true
	}
	if len(tok) == 1 && tok[0] >= '1' && tok[0] <= '9' {
		return time.Month(tok[0] - '0'), true
	}
	return 0, false
}

func monthName(m time.Month) string {
	return strings.ToUpper(m.String()[:3])
}

// indexAliases resolves the spellings brokers and data feeds use for the
// same index onto one canonical name.
var indexAliases = map[string]string{
	"NIFTY 50":          "NIFTY50",
	"NIFTY50":           "NIFTY50",
	"NSE:NIFTY50":       "NIFTY50",
	"NSE:NIFTY50-INDEX": "NIFTY50",
	"NIFTY BANK":        "BANKNIFTY",
	"BANKNIFTY":         "BANKNIFTY",
	"NSE:NIFTYBANK-INDEX": "BANKNIFTY",
	"NIFTY FIN SERVICE": "FINNIFTY",
	"FINNIFTY":          "FINNIFTY",
	"SENSEX":            "SENSEX",
	"BSE:SENSEX-INDEX":  "SENSEX",
}

// IndexAlias maps any known index spelling onto the canonical name.
// Unknown inputs come back trimmed and upper-cased, unchanged otherwise.
func IndexAlias(symbol string) string {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	if canon, ok := indexAliases[key]; ok {
		return canon
	}
	return key
}

// ToBrokerSymbol converts a canonical option symbol to the broker-native
// spelling. Index symbols (no option suffix) go through the alias table.
func ToBrokerSymbol(canonical, broker string) (string, error) {
	m := canonicalOptionRe.FindStringSubmatch(canonical)
	if m == nil {
		// not an option symbol — treat as an index/equity alias
		canon := IndexAlias(canonical)
		switch strings.ToLower(broker) {
		case "fyers":
			return "NSE:" + canon + "-INDEX", nil
		case "zerodha":
			return "NSE:" + canon, nil
		}
		return canon, nil
	}
	underlying, dd, mmm, yy, strike, opt := m[1], m[2], m[3], m[4], m[5], m[6]
	month, ok := monthNames[mmm]
	if !ok {
		return "", fmt.Errorf("symbol %q: unknown month %q", canonical, mmm)
	}
	switch strings.ToLower(broker) {
	case "fyers":
		return "NSE:" + underlying + yy + monthToken(month) + dd + strike + opt, nil
	case "zerodha":
		return "NFO:" + underlying + dd + mmm + yy + strike + opt, nil
	case "angel":
		return underlying + dd + mmm + yy + strike + opt, nil
	}
	return "", fmt.Errorf("symbol %q: no conversion for broker %q", canonical, broker)
}

// ToCanonicalSymbol converts a broker-native option symbol back to the
// canonical spelling. The round trip through ToBrokerSymbol is identity.
func ToCanonicalSymbol(native, broker string) (string, error) {
	switch strings.ToLower(broker) {
	case "fyers":
		m := fyersOptionRe.FindStringSubmatch(native)
		if m == nil {
			return IndexAlias(strings.TrimSuffix(native, "-INDEX")), nil
		}
		underlying, yy, tok, dd, strike, opt := m[1], m[2], m[3], m[4], m[5], m[6]
		month, ok := monthFromToken(tok)
		if !ok {
			return "", fmt.Errorf("symbol %q: bad month token %q", native, tok)
		}
		return underlying + dd + monthName(month) + yy + strike + opt, nil
	case "zerodha":
		m := zerodhaOptionRe.FindStringSubmatch(native)
		if m == nil {
			return IndexAlias(strings.TrimPrefix(native, "NSE:")), nil
		}
		return m[1] + m[2] + m[3] + m[4] + m[5] + m[6], nil
	case "angel":
		if canonicalOptionRe.MatchString(native) {
			return native, nil
		}
		return IndexAlias(native), nil
	}
	return "", fmt.Errorf("symbol %q: no conversion for broker %q", native, broker)
}
