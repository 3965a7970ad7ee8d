package database

import (
	"context"
	"fmt"

	"github.com/jonesrussell/north-cloud/discovery/internal/access"
)

// AuthorizedGroups returns the names of groups holding an active policy for
// action on the resource. Policies outside their start/end window are ignored.
func (r *Repository) AuthorizedGroups(ctx context.Context, identity string, action access.Action) ([]string, error) {
	query := `
		SELECT DISTINCT g.name
		FROM resource_policies rp
		JOIN epersongroups g ON g.id = rp.group_id
		WHERE rp.resource_id = $1
		  AND rp.action = $2
		  AND (rp.start_date IS NULL OR rp.start_date <= $3)
		  AND (rp.end_date IS NULL OR rp.end_date > $3)
		ORDER BY g.name
	`

	groups := []string{}
	if err := r.db.SelectContext(ctx, &groups, query, identity, string(action), r.now()); err != nil {
		return nil, fmt.Errorf("failed to list %s groups for %s: %w", action, identity, err)
	}
	return groups, nil
}
