package cloudsync

import (
	"context"

	"github.com/google/uuid"
)

// StaticIdentity is a fixed, configured user. The zero value means nobody is signed in.
type StaticIdentity struct {
	User uuid.UUID
}

// CurrentUser implements Identity
func (s StaticIdentity) CurrentUser(ctx context.Context) (uuid.UUID, bool, error) {
	if s.User == uuid.Nil {
		return uuid.Nil, false, nil
	}
	return s.User, true, nil
}
