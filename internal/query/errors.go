package query

import "errors"

var (
	ErrInvalidRange = errors.New("invalid time range")

	ErrInvalidPeriod = errors.New("unknown period")

	ErrInvalidGranularity = errors.New("granularity must be hour or day")
)
