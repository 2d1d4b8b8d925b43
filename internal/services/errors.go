package services

import "errors"

var (
	// ErrSourceUnavailable marks a failed or circuit-broken external source.
	// Callers fall back instead of failing the request.
	ErrSourceUnavailable = errors.New("data source unavailable")

	// ErrRankingFailed is returned when ranking hit an internal fault. No
	// partial list is ever returned alongside it.
	ErrRankingFailed = errors.New("internal ranking failure")

	ErrInvalidRequest = errors.New("invalid recommendation request")

	// ErrCycleInProgress is returned when a training cycle or catalog refresh
	// is requested while another one is still running.
	ErrCycleInProgress = errors.New("cycle already in progress")
)
