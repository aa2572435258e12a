package domain

import "errors"

var (
	// ErrRateLimited is returned when a partition received an explicit rate-limit signal (429)
	ErrRateLimited = errors.New("rate limited")
	// ErrCircuitOpen is returned when a fetch is short-circuited because the partition's circuit is open
	ErrCircuitOpen = errors.New("partition circuit open")
	// ErrBlocked is returned when a page stayed blocked (403) after all retries
	ErrBlocked = errors.New("request blocked")
	// ErrNotFound is returned when a page does not exist (404)
	ErrNotFound = errors.New("page not found")
	// ErrTransient is returned when a request failed with a network error or server error after all retries
	ErrTransient = errors.New("transient fetch failure")
	// ErrNoIdentity is returned when a card has no resolvable identity key
	ErrNoIdentity = errors.New("card has no identity key")
	// ErrUnknownPartition is returned when no site profile exists for a partition
	ErrUnknownPartition = errors.New("unknown partition")
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")
	// ErrRunNotFound is returned when a crawl run id is unknown
	ErrRunNotFound = errors.New("crawl run not found")
	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")
	// ErrSinkFailure is returned when an output sink could not persist a partition result
	ErrSinkFailure = errors.New("output sink failed")
	// ErrSnapshotMissing is returned when no previous snapshot exists for a partition
	ErrSnapshotMissing = errors.New("no previous snapshot")
)
