package domain

import (
	"fmt"
	"net/http"
)

// FetchRequest describes one page fetch for a partition. It is a value type and
// is never mutated after creation.
type FetchRequest struct {
	URL       string
	Partition string
	// HeadersHint carries extra headers (e.g. Referer) merged over the rotated identity headers
	HeadersHint http.Header
}

// NewFetchRequest creates a request for a partition
func NewFetchRequest(partition, url string) FetchRequest {
	return FetchRequest{URL: url, Partition: partition}
}

// OutcomeKind tags a FetchOutcome
type OutcomeKind int

// Fetch outcome kinds
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNotFound
	OutcomeBlocked
	OutcomeRateLimited
	OutcomeTransientError
)

// String returns the metric/log label of the kind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// FetchOutcome is the tagged result of a gate fetch:
// Success(body, status) | NotFound | Blocked | RateLimited | TransientError(cause)
type FetchOutcome struct {
	Kind   OutcomeKind
	Status int
	Body   []byte
	Cause  error
}

// Success builds a successful outcome
func Success(body []byte, status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeSuccess, Body: body, Status: status}
}

// NotFound builds a 404 outcome
func NotFound() FetchOutcome {
	return FetchOutcome{Kind: OutcomeNotFound, Status: http.StatusNotFound}
}

// Blocked builds a blocked outcome for the last observed status
func Blocked(status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeBlocked, Status: status}
}

// RateLimited builds a rate-limited outcome. Status is 0 when the request was
// short-circuited by an open circuit without reaching the network.
func RateLimited(status int) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRateLimited, Status: status}
}

// TransientError builds a transient failure outcome
func TransientError(cause error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTransientError, Cause: cause}
}

// OK reports whether the fetch succeeded
func (o FetchOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

// Err maps a non-success outcome to its sentinel error, nil on success
func (o FetchOutcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeNotFound:
		return ErrNotFound
	case OutcomeBlocked:
		return fmt.Errorf("%w: status %d", ErrBlocked, o.Status)
	case OutcomeRateLimited:
		if o.Status == 0 {
			return fmt.Errorf("%w: %v", ErrRateLimited, ErrCircuitOpen)
		}
		return ErrRateLimited
	default:
		if o.Cause != nil {
			return fmt.Errorf("%w: %v", ErrTransient, o.Cause)
		}
		return ErrTransient
	}
}

// FetchStats counts gate activity. Attempted counts network calls; ShortCircuited
// counts fetches rejected by an open circuit without a network call.
type FetchStats struct {
	Attempted      int64 `json:"attempted"`
	Succeeded      int64 `json:"succeeded"`
	RateLimited    int64 `json:"rateLimited"`
	Blocked        int64 `json:"blocked"`
	NotFound       int64 `json:"notFound"`
	Errored        int64 `json:"errored"`
	ShortCircuited int64 `json:"shortCircuited"`
}

// Add accumulates other into s
func (s *FetchStats) Add(other FetchStats) {
	s.Attempted += other.Attempted
	s.Succeeded += other.Succeeded
	s.RateLimited += other.RateLimited
	s.Blocked += other.Blocked
	s.NotFound += other.NotFound
	s.Errored += other.Errored
	s.ShortCircuited += other.ShortCircuited
}

// RateLimitRatio is the share of network calls answered with 429
func (s FetchStats) RateLimitRatio() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.RateLimited) / float64(s.Attempted)
}

// Advice summarizes how close the run was to the sites' rate limit
func (s FetchStats) Advice() string {
	ratio := s.RateLimitRatio()
	switch {
	case ratio == 0:
		return "no 429s: concurrency can likely be increased or base delay reduced"
	case ratio < 0.05:
		return fmt.Sprintf("near the limit: %d 429s detected", s.RateLimited)
	default:
		return fmt.Sprintf("over the limit: reduce concurrency or increase base delay (%d 429s = %.1f%%)", s.RateLimited, ratio*100)
	}
}
