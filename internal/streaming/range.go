package streaming

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedRange is returned by ParseRange for headers it cannot interpret.
var ErrMalformedRange = errors.New("malformed range header")

// Kind classifies how a request is answered.
type Kind int

const (
	// Full delivers the whole resource with 200.
	Full Kind = iota
	// Partial delivers [Start, End] with 206.
	Partial
	// Unsatisfiable answers 416 without a body.
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "unknown"
	}
}

// Request is the first byte range of a Range header, before it is resolved
// against a size. Start and End are -1 when absent; Suffix is set for "-N".
type Request struct {
	Unit   string
	Start  int64
	End    int64
	Suffix int64
}

// Decision is a Request resolved against a content length.
// For Partial, 0 <= Start <= End < size.
type Decision struct {
	Kind  Kind
	Start int64
	End   int64
}

// Length is the number of body bytes a Partial decision delivers.
func (d Decision) Length() int64 {
	if d.Kind != Partial {
		return 0
	}
	return d.End - d.Start + 1
}

// ParseRange parses "bytes=a-b", "bytes=a-" and "bytes=-n". When several
// ranges are listed only the first is returned; multipart responses are not
// produced.
func ParseRange(header string) (Request, error) {
	unit, set, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || strings.TrimSpace(unit) != "bytes" {
		return Request{}, ErrMalformedRange
	}

	first, _, _ := strings.Cut(set, ",")
	first = strings.TrimSpace(first)
	startStr, endStr, ok := strings.Cut(first, "-")
	if !ok {
		return Request{}, ErrMalformedRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	req := Request{Unit: "bytes", Start: -1, End: -1, Suffix: -1}

	if startStr == "" {
		n, err := parseOffset(endStr)
		if err != nil {
			return Request{}, err
		}
		req.Suffix = n
		return req, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return Request{}, err
	}
	req.Start = start

	if endStr != "" {
		end, err := parseOffset(endStr)
		if err != nil {
			return Request{}, err
		}
		req.End = end
	}
	return req, nil
}

// Resolve maps r onto a resource of size bytes. End is clamped to size-1.
func (r Request) Resolve(size int64) Decision {
	unsat := Decision{Kind: Unsatisfiable}
	if size <= 0 {
		return unsat
	}

	var start, end int64
	switch {
	case r.Suffix >= 0:
		if r.Suffix == 0 {
			return unsat
		}
		start = size - r.Suffix
		if start < 0 {
			start = 0
		}
		end = size - 1
	case r.End < 0:
		start, end = r.Start, size-1
	default:
		start, end = r.Start, r.End
		if end > size-1 {
			end = size - 1
		}
	}

	if start >= size || start > end {
		return unsat
	}
	return Decision{Kind: Partial, Start: start, End: end}
}

// Resolve turns a raw Range header into a delivery decision. An absent header
// means Full; a header that does not parse is Unsatisfiable.
func Resolve(header string, size int64) Decision {
	if strings.TrimSpace(header) == "" {
		return Decision{Kind: Full}
	}
	req, err := ParseRange(header)
	if err != nil {
		return Decision{Kind: Unsatisfiable}
	}
	return req.Resolve(size)
}

// parseOffset accepts only ASCII digits; strconv alone would take a sign.
func parseOffset(s string) (int64, error) {
	if s == "" {
		return 0, ErrMalformedRange
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrMalformedRange
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformedRange
	}
	return n, nil
}
