package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authcore.dev/internal/auth"
)

func TestUserEmailIsCaseInsensitiveAndUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Users(ctx).Create(ctx, &auth.User{ID: "u1", Email: "Alice@Example.com", Status: auth.UserStatusActive}))

	got, err := s.Users(ctx).FindByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	require.Equal(t, "u1", got.ID)

	err = s.Users(ctx).Create(ctx, &auth.User{ID: "u2", Email: "ALICE@example.com"})
	require.ErrorIs(t, err, auth.ErrConflict)

	_, err = s.Users(ctx).FindByEmail(ctx, "bob@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestRoleCreateValidatesAbilities(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.Roles(ctx).Create(ctx, &auth.Role{ID: "r1", Abilities: []auth.Ability{{Subject: "nope", Actions: []auth.Action{auth.ActionRead}}}})
	require.ErrorIs(t, err, auth.ErrInvalidInput)

	abilities := []auth.Ability{{Subject: auth.SubjectUser, Actions: []auth.Action{auth.ActionRead}}}
	require.NoError(t, s.Roles(ctx).Create(ctx, &auth.Role{ID: "r2", Abilities: abilities, IsActive: true}))
	abilities[0].Actions[0] = auth.ActionDelete

	got, err := s.Roles(ctx).Find(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, auth.ActionRead, got.Abilities[0].Actions[0], "store must not alias caller slices")
}

func TestChallengeConsumedOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.Challenges(ctx).Create(ctx, &auth.Challenge{ID: "c1", ExpiresAt: now.Add(time.Minute)}))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := s.Challenges(ctx).Consume(ctx, "c1", now); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, auth.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(31), conflicts.Load())
}

func TestExpiredChallengeCannotBeConsumed(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.Challenges(ctx).Create(ctx, &auth.Challenge{ID: "c1", ExpiresAt: now}))
	require.ErrorIs(t, s.Challenges(ctx).Consume(ctx, "c1", now), auth.ErrConflict)
	require.ErrorIs(t, s.Challenges(ctx).Consume(ctx, "missing", now), auth.ErrNotFound)
}

func TestBackupCodeConsumedOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	s := New()
	hash := auth.HashBackupCode("abcde-fghjk")
	require.NoError(t, s.TwoFactor(ctx).Save(ctx, &auth.TwoFactorProfile{
		UserID:       "u1",
		SealedSecret: "sealed",
		BackupCodes:  []auth.BackupCode{{Hash: hash}, {Hash: auth.HashBackupCode("other-code")}},
	}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.TwoFactor(ctx).ConsumeBackupCode(ctx, "u1", hash, time.Now()); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	p, err := s.TwoFactor(ctx).Find(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, p.RemainingBackupCodes())
}

func TestSessionRotateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{ID: "s1", UserID: "u1", State: auth.SessionStateActive, ExpiresAt: now.Add(time.Hour)}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Sessions(ctx).Rotate(ctx, "s1", 0, now.Add(2*time.Hour)); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())

	sess, err := s.Sessions(ctx).Find(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, sess.Rotation)
	require.True(t, sess.ExpiresAt.After(now.Add(time.Hour)))
}

func TestSessionActivateOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s := New()
	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{ID: "s1", State: auth.SessionStatePending, ExpiresAt: exp}))
	require.NoError(t, s.Sessions(ctx).Activate(ctx, "s1", exp))
	require.ErrorIs(t, s.Sessions(ctx).Activate(ctx, "s1", exp), auth.ErrConflict)

	require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{ID: "s2", State: auth.SessionStatePending, ExpiresAt: exp}))
	require.NoError(t, s.Sessions(ctx).Revoke(ctx, "s2", time.Now()))
	require.ErrorIs(t, s.Sessions(ctx).Activate(ctx, "s2", exp), auth.ErrConflict)
}

func TestRevokeByUser(t *testing.T) {
	ctx := context.Background()
	s := New()
	exp := time.Now().Add(time.Hour)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{ID: id, UserID: "u1", State: auth.SessionStateActive, ExpiresAt: exp}))
	}
	require.NoError(t, s.Sessions(ctx).Create(ctx, &auth.Session{ID: "c", UserID: "u2", State: auth.SessionStateActive, ExpiresAt: exp}))

	n, err := s.Sessions(ctx).RevokeByUser(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	other, err := s.Sessions(ctx).Find(ctx, "c")
	require.NoError(t, err)
	require.False(t, other.IsRevoked)
}

func TestAPIKeyRotationReindexes(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.APIKeys(ctx).Create(ctx, &auth.APIKeyRecord{ID: "k1", Key: "ak_old", SecretHash: "h1", IsActive: true}))
	require.NoError(t, s.APIKeys(ctx).UpdateSecret(ctx, "k1", "ak_new", "h2", time.Now()))

	_, err := s.APIKeys(ctx).FindByKey(ctx, "ak_old")
	require.ErrorIs(t, err, auth.ErrNotFound)
	rec, err := s.APIKeys(ctx).FindByKey(ctx, "ak_new")
	require.NoError(t, err)
	require.Equal(t, "h2", rec.SecretHash)
}

func TestAPIKeyWindowIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	want := end
	require.NoError(t, s.APIKeys(ctx).Create(ctx, &auth.APIKeyRecord{ID: "k1", Key: "ak_1", SecretHash: "h", IsActive: true, EndDate: &end}))
	end = end.Add(time.Hour)

	rec, err := s.APIKeys(ctx).Find(ctx, "k1")
	require.NoError(t, err)
	require.True(t, rec.EndDate.Equal(want))
	*rec.EndDate = want.Add(24 * time.Hour)

	rec, err = s.APIKeys(ctx).FindByKey(ctx, "ak_1")
	require.NoError(t, err)
	require.True(t, rec.EndDate.Equal(want))
	require.Nil(t, rec.StartDate)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Users(ctx).Find(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)
}
