// Package access removes search hits that anonymous users may not read.
package access

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// Action names a permission.
type Action string

// ActionRead is the only action the filter asks about.
const ActionRead Action = "READ"

// AnonymousGroup is the well-known group every visitor belongs to.
const AnonymousGroup = "Anonymous"

// PermissionChecker returns the groups granted action on a resource.
type PermissionChecker interface {
	AuthorizedGroups(ctx context.Context, identity string, action Action) ([]string, error)
}

// Recorder receives filter outcomes. internal/metrics implements it.
type Recorder interface {
	ItemsExcluded(n int)
	PermissionLookupFailed()
}

// PermissionLookupError names the item whose groups could not be resolved.
type PermissionLookupError struct {
	Identity string
	Err      error
}

func (e *PermissionLookupError) Error() string {
	return fmt.Sprintf("read groups of %s: %v", e.Identity, e.Err)
}

func (e *PermissionLookupError) Unwrap() error { return e.Err }

// Is matches domain.ErrPermissionLookupFailed.
func (e *PermissionLookupError) Is(target error) bool {
	return target == domain.ErrPermissionLookupFailed
}

// Filter keeps hits whose READ groups include the anonymous group.
type Filter struct {
	checker           PermissionChecker
	includeRestricted bool
	recorder          Recorder
}

// Option configures a Filter.
type Option func(*Filter)

// WithRecorder reports exclusions and lookup failures.
func WithRecorder(r Recorder) Option {
	return func(f *Filter) { f.recorder = r }
}

// NewFilter creates a filter. With includeRestricted set, Apply passes every hit through.
func NewFilter(checker PermissionChecker, includeRestricted bool, opts ...Option) *Filter {
	f := &Filter{checker: checker, includeRestricted: includeRestricted}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply returns the readable hits in input order, one lookup per hit.
// A failed lookup excludes the hit and its *PermissionLookupError is joined
// into the returned error; the surviving items are returned regardless.
func (f *Filter) Apply(ctx context.Context, hits []domain.RawHit) ([]domain.VettedItem, error) {
	items := make([]domain.VettedItem, 0, len(hits))
	if f.includeRestricted {
		for _, h := range hits {
			items = append(items, domain.Vet(h))
		}
		return items, nil
	}

	var errs []error
	for _, h := range hits {
		groups, err := f.checker.AuthorizedGroups(ctx, h.ID, ActionRead)
		if err != nil {
			errs = append(errs, &PermissionLookupError{Identity: h.ID, Err: err})
			if f.recorder != nil {
				f.recorder.PermissionLookupFailed()
			}
			continue
		}
		if slices.Contains(groups, AnonymousGroup) {
			items = append(items, domain.Vet(h))
		}
	}

	if f.recorder != nil {
		f.recorder.ItemsExcluded(len(hits) - len(items))
	}
	return items, errors.Join(errs...)
}
