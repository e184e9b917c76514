package domain

import (
	"fmt"
	"strings"
)

// Side represents the side of a trade (BUY or SELL).
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ParseSide normalises a raw side value. Unknown values are rejected.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// USD is the reporting currency every leg is valued in.
const USD = "USD"

// Policy selects the order in which open lots are consumed.
type Policy string

const (
	FIFO Policy = "FIFO"
	LIFO Policy = "LIFO"
)

// ParsePolicy converts a string to a Policy, defaulting to FIFO.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(LIFO)) {
		return LIFO
	}
	return FIFO
}

// SplitProduct splits a traded pair identifier such as "BTC-USD" into base and quote units.
func SplitProduct(product string) (base, quote string, err error) {
	parts := strings.Split(strings.TrimSpace(product), "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("cannot split product %q into base and quote", product)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
