package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	ErrBatchSizeRequired  = errors.New("batch size must be greater than zero")
	ErrSectionKeyRequired = errors.New("section score key is required")
)
