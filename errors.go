package elevatr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNoCoverage     = errors.New("no coverage")
	ErrFetch          = errors.New("fetch failed")
	ErrDecode         = errors.New("decode failed")
	ErrPartialFailure = errors.New("partial failure")
	ErrWrite          = errors.New("write failed")
	ErrInvalidCRS     = errors.New("invalid CRS")
	ErrLargeRequest   = errors.New("large request")
)

// A TileError is a failure to fetch or decode a single tile. Err wraps either
// ErrFetch or ErrDecode.
type TileError struct {
	Key CacheKey
	URL string
	Err error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// A PartialFailureError records the tiles that could not be obtained for a
// request. Areas covered only by failed tiles are no-data in the result.
type PartialFailureError struct {
	Failed []*TileError
	Total  int
	Err    error // Set when the request was cancelled.
}

func (e *PartialFailureError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d tiles failed", len(e.Failed), e.Total)
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	for i, tileErr := range e.Failed {
		if i == 3 {
			fmt.Fprintf(&sb, "; and %d more", len(e.Failed)-i)
			break
		}
		fmt.Fprintf(&sb, "; %v", tileErr)
	}
	return sb.String()
}

func (e *PartialFailureError) Is(target error) bool {
	return target == ErrPartialFailure
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, tileErr := range e.Failed {
		errs = append(errs, tileErr)
	}
	return errs
}

// A LargeRequestError is returned when a request needs more tiles than the
// configured threshold and was not confirmed.
type LargeRequestError struct {
	Estimate  RequestEstimate
	Threshold int
}

func (e *LargeRequestError) Error() string {
	return fmt.Sprintf("%v: %d tiles (about %d MB) exceeds threshold of %d tiles",
		ErrLargeRequest, e.Estimate.Tiles, e.Estimate.Bytes>>20, e.Threshold)
}

func (e *LargeRequestError) Is(target error) bool {
	return target == ErrLargeRequest
}

func invalidCRSError(crs string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %q", ErrInvalidCRS, crs)
	}
	return fmt.Errorf("%w: %q: %w", ErrInvalidCRS, crs, err)
}
