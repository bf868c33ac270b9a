package amm

import (
	"errors"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
)

var (
	ErrDivisionByZero        = fixedpoint.ErrDivisionByZero
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidWeight         = errors.New("invalid weight")
	ErrInvalidFee            = errors.New("invalid fee")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidDirection      = errors.New("invalid swap direction")
	ErrAssetNotFound         = errors.New("asset not found")

	// Returned by the invariant checker.
	ErrInvariantViolated = errors.New("pool invariant decreased")
	ErrRatioViolated     = errors.New("pool ratio changed")
	ErrMintViolated      = errors.New("lp mint not proportional")
)
