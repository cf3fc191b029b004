package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidCurrency = errors.New("invalid currency code")
	ErrInvalidName     = errors.New("invalid name")
	ErrInvalidScope    = errors.New("invalid balance scope")
	ErrAmountTooLarge  = errors.New("amount exceeds maximum allowed")
	ErrAmountPrecision = errors.New("amount has more than 2 fraction digits")
)

// Validation constants
const (
	MaxNameLength  = 255
	MaxScopeLength = 64
	MaxAmount      = "1000000000000" // 1 trillion
	AmountScale    = 2

	// DefaultScope is the balance scope used when none is given.
	DefaultScope = "primary"
)

// Valid currency codes (ISO 4217)
var validCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true,
	"CNY": true, "AUD": true, "CAD": true, "CHF": true,
	"SEK": true, "NZD": true, "KRW": true, "SGD": true,
	"NOK": true, "MXN": true, "INR": true, "BRL": true,
	"ZAR": true, "PLN": true, "TRY": true, "HKD": true,
}

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// ValidateCurrency validates currency code
func ValidateCurrency(currency string) error {
	currency = NormalizeCurrency(currency)

	if !validCurrencies[currency] {
		return fmt.Errorf("%w: %s is not a valid ISO 4217 currency code", ErrInvalidCurrency, currency)
	}

	return nil
}

// ValidateAmount checks that amount is positive, bounded and has at most two
// fraction digits.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if !amount.Equal(amount.Round(AmountScale)) {
		return fmt.Errorf("%w: %s", ErrAmountPrecision, amount.String())
	}

	maxAmount, _ := decimal.NewFromString(MaxAmount)
	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: maximum amount is %s", ErrAmountTooLarge, MaxAmount)
	}

	return nil
}

// ValidateName validates a human readable obligation name.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)

	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, MaxNameLength)
	}

	return nil
}

// ValidateOwnerID rejects empty owner references.
func ValidateOwnerID(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return ErrMissingOwner
	}
	return nil
}

// NormalizeScope returns DefaultScope for an empty scope.
func NormalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return DefaultScope
	}
	return scope
}

// ValidateScope validates an account scope identifier.
func ValidateScope(scope string) error {
	scope = NormalizeScope(scope)

	if len(scope) > MaxScopeLength {
		return fmt.Errorf("%w: scope exceeds %d characters", ErrInvalidScope, MaxScopeLength)
	}

	if strings.ContainsAny(scope, "/| \t") {
		return fmt.Errorf("%w: scope %q contains forbidden characters", ErrInvalidScope, scope)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int, error) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset, nil
}
