package domain

import "errors"

var (
	ErrNotFound       = errors.New("rebate_not_found")
	ErrInvalidPeriod  = errors.New("invalid_period")
	ErrExpertNotFound = errors.New("expert_not_found")
)
