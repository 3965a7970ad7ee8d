package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonesrussell/north-cloud/discovery/internal/domain"
)

// ResolveScope looks up the object a handle points to.
func (r *Repository) ResolveScope(ctx context.Context, handle string) (*domain.Scope, error) {
	query := `SELECT handle, resource_type, name FROM handles WHERE handle = $1`

	var scope domain.Scope
	if err := r.db.GetContext(ctx, &scope, query, handle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrScopeNotFound, handle)
		}
		return nil, fmt.Errorf("failed to resolve handle %s: %w", handle, err)
	}
	return &scope, nil
}
