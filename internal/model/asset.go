package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetClass distinguishes which quote API prices an asset.
type AssetClass string

// Supported asset classes.
const (
	ClassStock  AssetClass = "stock"
	ClassCrypto AssetClass = "crypto"
)

// CashAsset is the reserved code of the synthetic USD cash asset. Every user
// implicitly owns exactly one cash balance row under this code; it can never
// be traded directly.
const CashAsset = "USDOLLAR"

// SeedBalance is the cash every account starts with (and returns to on reset).
var SeedBalance = decimal.NewFromInt(50000)

// codeRegex matches ticker symbols as the quote APIs accept them:
// 1-10 characters, letters/digits plus "." and "-" (BRK.B, BTC-USD).
var codeRegex = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

var (
	ErrInvalidAssetCode = errors.New("model: invalid asset code")
	ErrReservedAsset    = errors.New("model: asset code is reserved")
	ErrInvalidClass     = errors.New("model: unsupported asset class")
)

// NormalizeCode upper-cases and validates a user-supplied asset code.
// The cash code is rejected: cash moves only as the settlement counterleg.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !codeRegex.MatchString(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAssetCode, raw)
	}
	if code == CashAsset {
		return "", fmt.Errorf("%w: %s", ErrReservedAsset, code)
	}
	return code, nil
}

// ParseClass validates an asset-class string, accepting the short aliases
// the chat commands use ("s" for stock, "c" for crypto).
func ParseClass(raw string) (AssetClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "stock", "s":
		return ClassStock, nil
	case "crypto", "c":
		return ClassCrypto, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidClass, raw)
	}
}

// IsCrypto reports whether the class prices through the crypto quote API.
func (c AssetClass) IsCrypto() bool { return c == ClassCrypto }
