/*
Package care manages users and the supervision edges between them.

PURPOSE:
  A user shares an invite code; another user who enters it becomes a
  supervisor (family, friend or doctor) of the code's owner. Supervisors get
  read access to the supervised user's daily plans, never write access.

KEY CONCEPTS:
  - User:        account with a unique username, bcrypt password hash and
                 invite code
  - Supervision: directed edge supervisor -> supervised, unique per pair
  - Status:      active edges grant read access, blocked ones do not

SEE ALSO:
  - service.go: operations and the CanView access policy
  - adherence/ledger.go: consumer of CanView
*/
package care

import (
	"context"
	"time"

	"github.com/medguardian/adherence-engine/adherence"
)

type UserID = adherence.UserID

type User struct {
	ID           UserID
	Username     string
	PasswordHash string
	InviteCode   string
	CreatedAt    time.Time
}

type Relation string

const (
	RelationFamily Relation = "family"
	RelationFriend Relation = "friend"
	RelationDoctor Relation = "doctor"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationFamily, RelationFriend, RelationDoctor:
		return true
	}
	return false
}

type Status string

const (
	StatusActive  Status = "active"
	StatusBlocked Status = "blocked"
)

type Supervision struct {
	ID             string
	SupervisorID   UserID
	SupervisedID   UserID
	Relation       Relation
	Status         Status
	CreatedAt      time.Time
	SupervisorName string // joined at read time
	SupervisedName string
}

// SupervisionFilter selects edges. Empty fields match everything.
type SupervisionFilter struct {
	SupervisorID UserID
	SupervisedID UserID
	Status       Status
}

// Store persists users and supervisions.
// CreateUser and CreateSupervision return *adherence.ConflictError when a
// unique field (username, invite code, supervisor/supervised pair) is taken.
type Store interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByInviteCode(ctx context.Context, code string) (User, error)

	CreateSupervision(ctx context.Context, s Supervision) error
	GetSupervision(ctx context.Context, id string) (Supervision, error)
	FindSupervision(ctx context.Context, supervisor, supervised UserID) (Supervision, error)
	ListSupervisions(ctx context.Context, filter SupervisionFilter) ([]Supervision, error)
	SetSupervisionStatus(ctx context.Context, id string, status Status) error
}
