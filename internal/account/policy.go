package account

import "context"

type actorKey struct{}

func WithActor(ctx context.Context, actor *Account) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (*Account, bool) {
	actor, ok := ctx.Value(actorKey{}).(*Account)
	return actor, ok && actor != nil
}

// CanAccess reports whether actor may act on the account identified by
// targetID. A zero targetID means no specific account is targeted. Admins pass
// every check; everyone else needs requiredRole (when set) and must be the
// target.
func CanAccess(actor *Account, targetID int64, requiredRole Role) bool {
	if actor == nil {
		return false
	}
	if actor.Role == RoleAdmin {
		return true
	}
	if requiredRole != "" && actor.Role != requiredRole {
		return false
	}
	return targetID == 0 || actor.ID == targetID
}
