package care_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medguardian/adherence-engine/adherence"
	"github.com/medguardian/adherence-engine/care"
)

func newService() *care.Service {
	svc := care.NewService(care.NewMemory())
	n := 0
	svc.NewID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	svc.Now = func() time.Time { return time.Date(2025, time.March, 12, 9, 0, 0, 0, time.UTC) }
	svc.PasswordCost = bcrypt.MinCost
	return svc
}

func TestGenerateInviteCode(t *testing.T) {
	code, err := care.GenerateInviteCode()
	require.NoError(t, err)
	assert.Len(t, code, care.InviteCodeLength)
	assert.Regexp(t, `^[A-Z0-9]+$`, code)
}

func TestRegister(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	u, err := svc.Register(ctx, "  alice ", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Len(t, u.InviteCode, care.InviteCodeLength)

	_, err = svc.Register(ctx, "alice", "secret-pass")
	assert.ErrorIs(t, err, adherence.ErrConflict)

	_, err = svc.Register(ctx, "", "secret-pass")
	assert.ErrorIs(t, err, adherence.ErrValidation)

	_, err = svc.Register(ctx, "bob", "short")
	assert.ErrorIs(t, err, adherence.ErrValidation)

	// the password is stored hashed
	assert.NotEqual(t, "secret-pass", u.PasswordHash)
	assert.True(t, care.VerifyPassword(u.PasswordHash, "secret-pass"))
}

func TestLogin(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	registered, err := svc.Register(ctx, "alice", "secret-pass")
	require.NoError(t, err)

	u, err := svc.Login(ctx, " alice ", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, u.ID)

	_, err = svc.Login(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, care.ErrInvalidCredentials)

	// unknown users look the same as wrong passwords
	_, err = svc.Login(ctx, "mallory", "secret-pass")
	assert.ErrorIs(t, err, care.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "alice", "")
	assert.ErrorIs(t, err, adherence.ErrValidation)
}

func TestRegister_RetriesInviteCodeCollision(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	svc.NewInviteCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := svc.Register(ctx, "alice", "secret-pass")
	require.NoError(t, err)
	second, err := svc.Register(ctx, "bob", "secret-pass")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAAAA", first.InviteCode)
	assert.Equal(t, "BBBBBBBB", second.InviteCode)
}

func TestAddCare(t *testing.T) {
	// GIVEN: a patient and a carer
	svc := newService()
	ctx := context.Background()
	patient, err := svc.Register(ctx, "patient", "secret-pass")
	require.NoError(t, err)
	carer, err := svc.Register(ctx, "carer", "secret-pass")
	require.NoError(t, err)

	// WHEN: the carer enters the patient's code
	edge, err := svc.AddCare(ctx, carer.ID, patient.InviteCode, care.RelationFamily)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, care.StatusActive, edge.Status)
	assert.Equal(t, "patient", edge.SupervisedName)

	mine, err := svc.MyCares(ctx, carer.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	caresMe, err := svc.CaresMe(ctx, patient.ID)
	require.NoError(t, err)
	require.Len(t, caresMe, 1)
	assert.Equal(t, "carer", caresMe[0].SupervisorName)

	// AND: edge cases
	_, err = svc.AddCare(ctx, carer.ID, patient.InviteCode, care.RelationFriend)
	assert.ErrorIs(t, err, adherence.ErrConflict)
	_, err = svc.AddCare(ctx, patient.ID, patient.InviteCode, care.RelationFriend)
	assert.ErrorIs(t, err, adherence.ErrValidation)
	_, err = svc.AddCare(ctx, carer.ID, "ZZZZZZZZ", care.RelationFriend)
	assert.ErrorIs(t, err, adherence.ErrNotFound)
	_, err = svc.AddCare(ctx, carer.ID, patient.InviteCode, "neighbour")
	assert.ErrorIs(t, err, adherence.ErrValidation)
}

func TestCanView_ActiveEdgeOnly(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	patient, _ := svc.Register(ctx, "patient", "secret-pass")
	carer, _ := svc.Register(ctx, "carer", "secret-pass")
	stranger, _ := svc.Register(ctx, "stranger", "secret-pass")
	edge, err := svc.AddCare(ctx, carer.ID, patient.InviteCode, care.RelationDoctor)
	require.NoError(t, err)

	assert.NoError(t, svc.CanView(ctx, patient.ID, patient.ID))
	assert.NoError(t, svc.CanView(ctx, carer.ID, patient.ID))
	assert.ErrorIs(t, svc.CanView(ctx, stranger.ID, patient.ID), adherence.ErrForbidden)
	assert.ErrorIs(t, svc.CanView(ctx, patient.ID, carer.ID), adherence.ErrForbidden, "edges are directed")

	// only the supervised user may block
	_, err = svc.Block(ctx, carer.ID, edge.ID)
	assert.ErrorIs(t, err, adherence.ErrForbidden)
	blocked, err := svc.Block(ctx, patient.ID, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, care.StatusBlocked, blocked.Status)

	assert.ErrorIs(t, svc.CanView(ctx, carer.ID, patient.ID), adherence.ErrForbidden)
	mine, err := svc.MyCares(ctx, carer.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}
