package exchange

import "errors"

// Every operation either passes all of its preconditions and applies all
// of its mutations, or fails with one of these and mutates nothing.
var (
	ErrIdenticalAccount   = errors.New("caller and counterparty are the same account")
	ErrIntervalInvalid    = errors.New("interval count is zero or invalid")
	ErrTariffInvalid      = errors.New("tariff is zero or invalid")
	ErrAllocationShortage = errors.New("insufficient balance, credit or listing")
	ErrAllocationCeiling  = errors.New("allocation ceiling reached")
	ErrCompensationFailed = errors.New("operator credit pool cannot cover compensation")
	ErrNoActiveSession    = errors.New("no active session")
	ErrAlreadyOccupying   = errors.New("session already active")
	ErrHalted             = errors.New("exchange is halted")
)
