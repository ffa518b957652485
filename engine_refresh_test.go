package credvault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func authenticateTestUser(t *testing.T, engine *Engine, username string) *TokenPair {
	t.Helper()

	pair, err := engine.Authenticate(context.Background(), username, "Sup3r-Secret!")
	if err != nil {
		t.Fatalf("Authenticate(%s) failed: %v", username, err)
	}
	return pair
}

func TestRedeemRefreshTokenRotates(t *testing.T) {
	engine, store, _ := newTestEngine(t, engineTestConfig())
	user := registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	next, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("RedeemRefreshToken failed: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	username, userID, err := engine.VerifyAccessToken(context.Background(), next.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken failed: %v", err)
	}
	if username != "alice" || userID != user.ID {
		t.Fatalf("access claims = (%q, %d), want (alice, %d)", username, userID, user.ID)
	}

	record, err := store.RefreshTokenByHash(context.Background(), hashToken(pair.RefreshToken))
	if err != nil {
		t.Fatalf("RefreshTokenByHash failed: %v", err)
	}
	if !record.IsRevoked {
		t.Fatal("redeemed token should be revoked")
	}
}

// A refresh token is single use. The second redemption must fail even though
// the JWT itself is still within its validity window.
func TestRedeemRefreshTokenReplayRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, engineTestConfig())
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	if _, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}

	_, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("replay err = %v, want ErrTokenInvalid", err)
	}
}

func TestRedeemRefreshTokenGarbageInput(t *testing.T) {
	engine, _, _ := newTestEngine(t, engineTestConfig())

	_, err := engine.RedeemRefreshToken(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestRedeemRefreshTokenNotOnRecord(t *testing.T) {
	engine, store, _ := newTestEngine(t, engineTestConfig())
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	// Kill the persisted record out of band; the well-formed JWT alone is
	// not enough.
	if _, err := store.RevokeRefreshToken(context.Background(), hashToken(pair.RefreshToken)); err != nil {
		t.Fatalf("RevokeRefreshToken failed: %v", err)
	}

	_, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid", err)
	}
}

func TestRedeemRefreshTokenLockedAccount(t *testing.T) {
	cfg := engineTestConfig()
	engine, _, _ := newTestEngine(t, cfg)
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	for i := 0; i < cfg.Lockout.Threshold; i++ {
		_, _ = engine.Authenticate(context.Background(), "alice", "not-the-password")
	}

	_, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid for locked account", err)
	}
}

func TestRevokeRefreshToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, engineTestConfig())
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	if err := engine.RevokeRefreshToken(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("RevokeRefreshToken failed: %v", err)
	}

	if _, err := engine.RedeemRefreshToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("redeem after revoke err = %v, want ErrTokenInvalid", err)
	}

	err := engine.RevokeRefreshToken(context.Background(), pair.RefreshToken)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("double revoke err = %v, want ErrNotFound", err)
	}
}

func TestSweepExpiredRefreshTokens(t *testing.T) {
	cfg := engineTestConfig()
	engine, store, clock := newTestEngine(t, cfg)
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	removed, err := engine.SweepExpiredRefreshTokens(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 before expiry", removed)
	}

	clock.Advance(cfg.JWT.RefreshTTL + time.Second)

	removed, err = engine.SweepExpiredRefreshTokens(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if _, err := store.RefreshTokenByHash(context.Background(), hashToken(pair.RefreshToken)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record still present after sweep: %v", err)
	}
}

func TestVerifyAccessTokenRejectsRefreshToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, engineTestConfig())
	registerTestUser(t, engine, "alice")
	pair := authenticateTestUser(t, engine, "alice")

	if _, _, err := engine.VerifyAccessToken(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("err = %v, want ErrTokenInvalid for refresh token", err)
	}
}

func TestListActiveRefreshTokensRequiresCapability(t *testing.T) {
	engine, store, _ := newTestEngine(t, engineTestConfig())
	user := registerTestUser(t, engine, "alice")
	authenticateTestUser(t, engine, "alice")

	if _, err := engine.ListActiveRefreshTokens(context.Background(), user); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied for non-superuser", err)
	}

	user.IsSuperuser = true
	if err := store.UpdateUser(context.Background(), user); err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}

	records, err := engine.ListActiveRefreshTokens(context.Background(), user)
	if err != nil {
		t.Fatalf("ListActiveRefreshTokens failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
}
