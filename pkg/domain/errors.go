package domain

import "errors"

// Sentinel errors for every failure class the engines report. Callers match
// with errors.Is; engines wrap these with fmt.Errorf("...: %w", ...) to add
// entity context. A failed call never leaves partial state behind.
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrDeadlineNotReached    = errors.New("deadline not reached")
	ErrDeadlinePassed        = errors.New("deadline passed")
	ErrBelowMinimum          = errors.New("below configured minimum")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrZeroContribution      = errors.New("zero contribution")
	ErrAlreadyFinalized      = errors.New("already finalized")
	ErrAlreadyResolved       = errors.New("already resolved")
	ErrAlreadyCertified      = errors.New("already certified")
	ErrCampaignNotSuccessful = errors.New("campaign not successful")
	ErrNotVerified           = errors.New("evidence not verified")
	ErrInvalidArgument       = errors.New("invalid argument")
)
