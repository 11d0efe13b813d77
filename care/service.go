package care

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/medguardian/adherence-engine/adherence"
)

const (
	InviteCodeLength = 8
	inviteAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxUsernameLen   = 64
	inviteAttempts   = 5
)

// Service implements registration, supervision management and the plan
// read policy.
type Service struct {
	Store         Store
	Now           func() time.Time
	NewID         func() string
	NewInviteCode func() (string, error)
	PasswordCost  int
}

func NewService(store Store) *Service {
	return &Service{
		Store:         store,
		Now:           time.Now,
		NewID:         uuid.NewString,
		NewInviteCode: GenerateInviteCode,
		PasswordCost:  bcrypt.DefaultCost,
	}
}

// GenerateInviteCode returns a random code of upper-case letters and digits.
func GenerateInviteCode() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(inviteAlphabet)))
	for i := 0; i < InviteCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b.WriteByte(inviteAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// =============================================================================
// USERS
// =============================================================================

// Register creates a user with a hashed password and a fresh invite code.
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, &adherence.ValidationError{Field: "username", Message: "is required"}
	}
	if len(username) > maxUsernameLen {
		return User{}, &adherence.ValidationError{Field: "username", Message: fmt.Sprintf("must be at most %d characters", maxUsernameLen)}
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}
	if _, err := s.Store.GetUserByUsername(ctx, username); err == nil {
		return User{}, &adherence.ConflictError{Resource: "user", Key: username}
	} else if !adherence.IsNotFound(err) {
		return User{}, err
	}

	hash, err := HashPassword(password, s.PasswordCost)
	if err != nil {
		return User{}, err
	}

	u := User{ID: UserID(s.NewID()), Username: username, PasswordHash: hash, CreatedAt: s.Now().UTC()}
	for attempt := 0; attempt < inviteAttempts; attempt++ {
		code, err := s.NewInviteCode()
		if err != nil {
			return User{}, err
		}
		u.InviteCode = code
		err = s.Store.CreateUser(ctx, u)
		if err == nil {
			return u, nil
		}
		var conflict *adherence.ConflictError
		if !errors.As(err, &conflict) || conflict.Resource != "invite_code" {
			return User{}, err
		}
	}
	return User{}, fmt.Errorf("register %s: no free invite code after %d attempts", username, inviteAttempts)
}

// Login checks a username and password pair.
func (s *Service) Login(ctx context.Context, username, password string) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, &adherence.ValidationError{Field: "username", Message: "is required"}
	}
	if password == "" {
		return User{}, &adherence.ValidationError{Field: "password", Message: "is required"}
	}
	u, err := s.Store.GetUserByUsername(ctx, username)
	if adherence.IsNotFound(err) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}
	if !VerifyPassword(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id UserID) (User, error) {
	return s.Store.GetUser(ctx, id)
}

// =============================================================================
// SUPERVISION
// =============================================================================

// AddCare makes supervisor a carer of the user owning inviteCode.
func (s *Service) AddCare(ctx context.Context, supervisor UserID, inviteCode string, relation Relation) (Supervision, error) {
	inviteCode = strings.ToUpper(strings.TrimSpace(inviteCode))
	if inviteCode == "" {
		return Supervision{}, &adherence.ValidationError{Field: "invite_code", Message: "is required"}
	}
	if relation == "" {
		relation = RelationFriend
	}
	if !relation.Valid() {
		return Supervision{}, &adherence.ValidationError{Field: "relation_type", Message: fmt.Sprintf("unknown relation %q", relation)}
	}
	carer, err := s.Store.GetUser(ctx, supervisor)
	if err != nil {
		return Supervision{}, err
	}
	target, err := s.Store.GetUserByInviteCode(ctx, inviteCode)
	if err != nil {
		return Supervision{}, err
	}
	if target.ID == supervisor {
		return Supervision{}, &adherence.ValidationError{Field: "invite_code", Message: "cannot supervise yourself"}
	}

	edge := Supervision{
		ID:             s.NewID(),
		SupervisorID:   supervisor,
		SupervisedID:   target.ID,
		Relation:       relation,
		Status:         StatusActive,
		CreatedAt:      s.Now().UTC(),
		SupervisorName: carer.Username,
		SupervisedName: target.Username,
	}
	if err := s.Store.CreateSupervision(ctx, edge); err != nil {
		return Supervision{}, err
	}
	return edge, nil
}

// MyCares lists the active edges where user is the supervisor.
func (s *Service) MyCares(ctx context.Context, user UserID) ([]Supervision, error) {
	return s.Store.ListSupervisions(ctx, SupervisionFilter{SupervisorID: user, Status: StatusActive})
}

// CaresMe lists the active edges where user is supervised.
func (s *Service) CaresMe(ctx context.Context, user UserID) ([]Supervision, error) {
	return s.Store.ListSupervisions(ctx, SupervisionFilter{SupervisedID: user, Status: StatusActive})
}

// Block revokes a supervisor's access. Only the supervised user may block.
func (s *Service) Block(ctx context.Context, supervised UserID, supervisionID string) (Supervision, error) {
	edge, err := s.Store.GetSupervision(ctx, supervisionID)
	if err != nil {
		return Supervision{}, err
	}
	if edge.SupervisedID != supervised {
		return Supervision{}, &adherence.AuthorizationError{UserID: supervised, Resource: "supervision", ID: supervisionID, Reason: "only the supervised user can block"}
	}
	if edge.Status == StatusBlocked {
		return edge, nil
	}
	if err := s.Store.SetSupervisionStatus(ctx, supervisionID, StatusBlocked); err != nil {
		return Supervision{}, err
	}
	edge.Status = StatusBlocked
	return edge, nil
}

// CanView allows self and active supervisors.
func (s *Service) CanView(ctx context.Context, viewer, owner UserID) error {
	if viewer == owner {
		return nil
	}
	edge, err := s.Store.FindSupervision(ctx, viewer, owner)
	if adherence.IsNotFound(err) {
		return &adherence.AuthorizationError{UserID: viewer, Resource: "plans", ID: string(owner), Reason: "not a supervisor"}
	}
	if err != nil {
		return err
	}
	if edge.Status != StatusActive {
		return &adherence.AuthorizationError{UserID: viewer, Resource: "plans", ID: string(owner), Reason: "supervision is blocked"}
	}
	return nil
}

var _ adherence.AccessPolicy = (*Service)(nil)
