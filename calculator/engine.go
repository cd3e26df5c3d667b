/*
Package calculator evaluates one binary (or unary) arithmetic step.

PURPOSE:
  Turns two operand strings and an operator symbol into a result string.
  The operator set is closed: each symbol maps to a handler, there is no
  expression parser and no code evaluation.

RULES:
  - num1 that is not a non-empty run of ASCII digits is echoed back as the
    result. This covers values that are not numbers at all (random strings).
  - "√" takes the square root of num1 and ignores num2.
  - "+ - * /" parse both operands as integers with an optional sign and
    compute with decimal.Decimal. Division is exact up to DivisionPrecision
    fractional digits.
  - Division by zero is the only error. Every other failure is reported in
    the result text, prefixed with InvalidPrefix.

SEE ALSO:
  - records/service.go: Calls Evaluate before charging
*/
package calculator

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/calculator-engine/ledger"
)

// ErrDivisionByZero aborts the request. Nothing is charged.
var ErrDivisionByZero = errors.New("Divisor can't be zero. Try other random number.")

// InvalidPrefix starts every in-band error result.
const InvalidPrefix = "Error: Invalid input or expression: "

// DivisionPrecision is the number of fractional digits kept by "/".
const DivisionPrecision = 16

var integerPattern = regexp.MustCompile(`^[+-]?\d+$`)

type binaryFunc func(a, b decimal.Decimal) (decimal.Decimal, error)

var binaryOps = map[string]binaryFunc{
	ledger.SymbolAdd:      func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Add(b), nil },
	ledger.SymbolSubtract: func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Sub(b), nil },
	ledger.SymbolMultiply: func(a, b decimal.Decimal) (decimal.Decimal, error) { return a.Mul(b), nil },
	ledger.SymbolDivide: func(a, b decimal.Decimal) (decimal.Decimal, error) {
		if b.IsZero() {
			return decimal.Zero, ErrDivisionByZero
		}
		return a.DivRound(b, DivisionPrecision), nil
	},
}

// Evaluate applies symbol to num1 and num2.
func Evaluate(num1, num2, symbol string) (string, error) {
	if !isDigits(num1) {
		return num1, nil
	}

	if symbol == ledger.SymbolSquareRoot {
		return squareRoot(num1), nil
	}

	op, ok := binaryOps[symbol]
	if !ok {
		return invalid(fmt.Sprintf("unsupported operator %q", symbol)), nil
	}

	a, err := parseInteger(num1)
	if err != nil {
		return invalid(err.Error()), nil
	}
	b, err := parseInteger(num2)
	if err != nil {
		return invalid(err.Error()), nil
	}

	result, err := op(a, b)
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

// Supported reports whether symbol has a handler. The operation catalog is
// checked against it before it is seeded.
func Supported(symbol string) bool {
	if symbol == ledger.SymbolSquareRoot {
		return true
	}
	_, ok := binaryOps[symbol]
	return ok
}

func squareRoot(num1 string) string {
	f, err := strconv.ParseFloat(num1, 64)
	if err != nil {
		return invalid(err.Error())
	}
	return strconv.FormatFloat(math.Sqrt(f), 'f', -1, 64)
}

func parseInteger(s string) (decimal.Decimal, error) {
	if !integerPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("invalid literal for integer: %q", s)
	}
	return decimal.NewFromString(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func invalid(detail string) string {
	return InvalidPrefix + detail
}
