package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanAccess(t *testing.T) {
	user := &Account{ID: 1, Role: RoleUser}
	admin := &Account{ID: 2, Role: RoleAdmin}

	tests := []struct {
		name     string
		actor    *Account
		targetID int64
		role     Role
		want     bool
	}{
		{"no actor", nil, 1, "", false},
		{"self", user, 1, "", true},
		{"other account", user, 3, "", false},
		{"no target", user, 0, "", true},
		{"user lacks admin role", user, 0, RoleAdmin, false},
		{"user holds user role", user, 1, RoleUser, true},
		{"admin on other account", admin, 1, "", true},
		{"admin on admin route", admin, 0, RoleAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccess(tt.actor, tt.targetID, tt.role))
		})
	}
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	_, ok = ActorFromContext(WithActor(context.Background(), nil))
	assert.False(t, ok)

	actor := &Account{ID: 7}
	got, ok := ActorFromContext(WithActor(context.Background(), actor))
	assert.True(t, ok)
	assert.Same(t, actor, got)
}
