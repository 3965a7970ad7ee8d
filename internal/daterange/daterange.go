// Package daterange compiles symbolic time windows such as "last month to
// this month" into a time:[start TO end] filter fragment.
package daterange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// Granularity is the calendar unit offsets are counted in.
type Granularity string

const (
	Day          Granularity = "day"
	Month        Granularity = "month"
	Year         Granularity = "year"
	CalendarDate Granularity = "calendar-date"
)

// TimeLayout is the UTC ISO-8601 profile used for both bounds.
const TimeLayout = "2006-01-02T15:04:05Z"

const calendarParts = 3

// Fragment is one filter clause. The zero value means no filter.
type Fragment string

// Empty reports whether the fragment adds no filter.
func (f Fragment) Empty() bool { return f == "" }

// Spec describes a range either by absolute bounds or by two expressions
// interpreted under a granularity. Resolved bounds are cached on the spec.
type Spec struct {
	Start *time.Time
	End   *time.Time

	Granularity Granularity
	StartExpr   string
	EndExpr     string
}

// NewSpec builds a symbolic spec. The granularity tag is case-insensitive.
func NewSpec(granularity, startExpr, endExpr string) *Spec {
	return &Spec{
		Granularity: Granularity(strings.ToLower(strings.TrimSpace(granularity))),
		StartExpr:   startExpr,
		EndExpr:     endExpr,
	}
}

// NewAbsoluteSpec builds a spec with both bounds fixed.
func NewAbsoluteSpec(start, end time.Time) *Spec {
	return &Spec{Start: &start, End: &end}
}

// MalformedExpressionError reports the bound whose expression could not be parsed.
type MalformedExpressionError struct {
	Bound string
	Expr  string
	Err   error
}

func (e *MalformedExpressionError) Error() string {
	return fmt.Sprintf("%s bound %q: %v", e.Bound, e.Expr, e.Err)
}

func (e *MalformedExpressionError) Unwrap() error { return e.Err }

// Is matches domain.ErrMalformedExpression.
func (e *MalformedExpressionError) Is(target error) bool {
	return target == domain.ErrMalformedExpression
}

// Compile resolves spec against now and renders the fragment.
//
// An unknown granularity yields an empty fragment and ErrInvalidRangeSpec.
// A malformed bound yields a *MalformedExpressionError while the fragment is
// still produced, with the floor timestamp standing in for the failed bound.
// Callers decide whether to log and use the degraded fragment.
func Compile(spec *Spec, now time.Time) (Fragment, error) {
	if spec.Start != nil && spec.End != nil {
		return render(*spec.Start, *spec.End), nil
	}

	floor, ok := Floor(spec.Granularity, now)
	if !ok {
		return "", fmt.Errorf("%w: granularity %q", domain.ErrInvalidRangeSpec, spec.Granularity)
	}

	var errs []error
	start, err := spec.resolve(spec.Start, spec.StartExpr, "start", floor)
	if err != nil {
		errs = append(errs, err)
	} else {
		spec.Start = &start
	}

	end, err := spec.resolve(spec.End, spec.EndExpr, "end", floor)
	if err != nil {
		errs = append(errs, err)
	} else {
		spec.End = &end
	}

	return render(start, end), errors.Join(errs...)
}

// resolve returns the floor on failure so the fragment can still be emitted.
func (s *Spec) resolve(fixed *time.Time, expr, bound string, floor time.Time) (time.Time, error) {
	if fixed != nil {
		return *fixed, nil
	}

	var (
		t   time.Time
		err error
	)
	if s.Granularity == CalendarDate {
		t, err = parseCalendarDate(expr, floor.Location())
	} else {
		t, err = applyOffset(s.Granularity, expr, floor)
	}
	if err != nil {
		return floor, &MalformedExpressionError{Bound: bound, Expr: expr, Err: err}
	}
	return t, nil
}

// Floor truncates now to the start of the granularity's current period, in
// now's location. It reports false for an unknown granularity.
func Floor(g Granularity, now time.Time) (time.Time, bool) {
	y, m, d := now.Date()
	loc := now.Location()

	switch g {
	case Day, CalendarDate:
		return time.Date(y, m, d, 0, 0, 0, 0, loc), true
	case Month:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc), true
	case Year:
		return time.Date(y, time.January, 1, 0, 0, 0, 0, loc), true
	default:
		return time.Time{}, false
	}
}

func applyOffset(g Granularity, expr string, floor time.Time) (time.Time, error) {
	digits, signed := strings.CutPrefix(expr, "+")
	if signed && strings.IndexAny(digits, "+-") == 0 {
		return time.Time{}, fmt.Errorf("more than one sign in offset %q", expr)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return time.Time{}, err
	}

	switch g {
	case Day:
		return floor.AddDate(0, 0, n), nil
	case Month:
		return floor.AddDate(0, n, 0), nil
	default:
		return floor.AddDate(n, 0, 0), nil
	}
}

// parseCalendarDate reads YYYY-MM-DD with a 1-based month. Out-of-range
// components normalize the way time.Date does.
func parseCalendarDate(expr string, loc *time.Location) (time.Time, error) {
	parts := strings.Split(expr, "-")
	if len(parts) != calendarParts {
		return time.Time{}, fmt.Errorf("want %d dash-separated components, got %d", calendarParts, len(parts))
	}

	var ymd [calendarParts]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, err
		}
		ymd[i] = n
	}
	return time.Date(ymd[0], time.Month(ymd[1]), ymd[2], 0, 0, 0, 0, loc), nil
}

func render(start, end time.Time) Fragment {
	return Fragment("time:[" + start.UTC().Format(TimeLayout) + " TO " + end.UTC().Format(TimeLayout) + "]")
}
