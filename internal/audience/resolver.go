package audience

import (
	"context"
	"fmt"
	"sort"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/repository"
)

// Resolver translates a broadcast's target descriptor into a deduplicated
// set of recipient identifiers. It is a pure read over the current store
// snapshot; order of the result is not meaningful (it is sorted only to
// keep behaviour deterministic).
type Resolver struct {
	auth repository.AuthRepository
}

func NewResolver(auth repository.AuthRepository) *Resolver {
	return &Resolver{auth: auth}
}

// Resolve returns the recipient set for the target. BY_ROLE requires a
// non-empty, known role; anything else is ErrInvalidTarget.
func (r *Resolver) Resolve(ctx context.Context, target domain.Target, role *domain.Role) ([]string, error) {
	var (
		recipients []string
		err        error
	)

	switch target {
	case domain.TargetAllBotUsers, domain.TargetActiveSessions:
		recipients, err = r.auth.ActiveRecipients(ctx)
	case domain.TargetAdminsOnly:
		recipients, err = r.auth.ActiveRecipientsByRoles(ctx, domain.AdminRoles)
	case domain.TargetByRole:
		if role == nil {
			return nil, domain.ErrInvalidTarget
		}
		normalized, perr := domain.ParseRole(string(*role))
		if perr != nil {
			return nil, perr
		}
		recipients, err = r.auth.ActiveRecipientsByRoles(ctx, []domain.Role{normalized})
	default:
		return nil, domain.ErrInvalidTarget
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	return dedup(recipients), nil
}

// dedup collapses recipients that appear through multiple admin bindings.
func dedup(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
