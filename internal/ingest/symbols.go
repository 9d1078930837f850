package ingest

import "strings"

// quoteSuffixes maps exchange quote-asset suffixes to canonical symbol
// suffixes. A table rather than a blind string replace: only a trailing
// match rewrites, and unknown suffixes pass through unchanged.
var quoteSuffixes = map[string]string{
	"USDT": "-USD",
}

// NormalizeSymbol converts an exchange symbol like BTCUSDT to the
// canonical BTC-USD form used across the database, stream, and KV keys.
func NormalizeSymbol(raw string) string {
	sym := strings.ToUpper(raw)
	for suffix, canonical := range quoteSuffixes {
		if base, ok := strings.CutSuffix(sym, suffix); ok && base != "" {
			return base + canonical
		}
	}
	return sym
}
