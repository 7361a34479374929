package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/ledger"
)

func refreshDeps(rotate func(context.Context, string) (ledger.Issued, error), users map[string]User, revoked *[]string) RefreshDeps {
	return RefreshDeps{
		Rotate: rotate,
		RevokeFamily: func(_ context.Context, fam string) error {
			*revoked = append(*revoked, fam)
			return nil
		},
		GetUserByID: func(_ context.Context, id string) (User, error) {
			u, ok := users[id]
			if !ok {
				return User{}, errNoUser
			}
			return u, nil
		},
		Mint: func(_ context.Context, u User, issued ledger.Issued) (*Session, error) {
			return &Session{UserID: u.ID, FamilyID: issued.Token.FamilyID, RefreshToken: issued.Secret}, nil
		},
		UserNotFound: errNoUser,
	}
}

func issuedFor(userID, family string) ledger.Issued {
	return ledger.Issued{
		Token:  ledger.Token{ID: "t2", UserID: userID, FamilyID: family, ParentID: "t1", ExpiresAt: time.Now().Add(time.Hour)},
		Secret: "next-secret",
	}
}

func TestRefreshMintsFromCurrentUser(t *testing.T) {
	var revoked []string
	users := map[string]User{"u1": {ID: "u1", Active: true, Kind: "admin"}}
	deps := refreshDeps(func(context.Context, string) (ledger.Issued, error) {
		return issuedFor("u1", "fam-1"), nil
	}, users, &revoked)

	res := RunRefresh(context.Background(), "presented", deps)
	if res.Failure != RefreshFailureNone || res.Session == nil {
		t.Fatalf("unexpected failure %v: %v", res.Failure, res.Err)
	}
	if res.Session.RefreshToken != "next-secret" || res.FamilyID != "fam-1" {
		t.Fatalf("unexpected session %+v", res.Session)
	}
}

func TestRefreshReuseIsClassified(t *testing.T) {
	var revoked []string
	var audited []string
	deps := refreshDeps(func(context.Context, string) (ledger.Issued, error) {
		return ledger.Issued{}, &ledger.ReuseError{FamilyID: "fam-9", UserID: "u9", TokenID: "t1", Revoked: 3}
	}, nil, &revoked)
	deps.Events.RefreshReuse = "reuse"
	deps.EmitAudit = func(_ context.Context, event string, _ bool, userID string, _ error, _ func() map[string]string) {
		audited = append(audited, event+":"+userID)
	}

	res := RunRefresh(context.Background(), "old", deps)
	if res.Failure != RefreshFailureReuse {
		t.Fatalf("failure = %v, want reuse", res.Failure)
	}
	if !errors.Is(res.Err, ledger.ErrReuseDetected) || res.FamilyID != "fam-9" || res.UserID != "u9" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(audited) != 1 || audited[0] != "reuse:u9" {
		t.Fatalf("audit = %v", audited)
	}
}

func TestRefreshLedgerErrorsMap(t *testing.T) {
	cases := []struct {
		err  error
		want RefreshFailureKind
	}{
		{ledger.ErrTokenExpired, RefreshFailureExpired},
		{ledger.ErrInvalidToken, RefreshFailureInvalid},
		{ledger.ErrStorage, RefreshFailureStorage},
	}
	for _, tc := range cases {
		var revoked []string
		deps := refreshDeps(func(context.Context, string) (ledger.Issued, error) {
			return ledger.Issued{}, tc.err
		}, nil, &revoked)
		if got := RunRefresh(context.Background(), "x", deps).Failure; got != tc.want {
			t.Fatalf("%v mapped to %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRefreshInactiveUserRevokesFamily(t *testing.T) {
	var revoked []string
	users := map[string]User{"u1": {ID: "u1", Active: false}}
	deps := refreshDeps(func(context.Context, string) (ledger.Issued, error) {
		return issuedFor("u1", "fam-1"), nil
	}, users, &revoked)

	res := RunRefresh(context.Background(), "presented", deps)
	if res.Failure != RefreshFailureAccount {
		t.Fatalf("failure = %v, want account", res.Failure)
	}
	if len(revoked) != 1 || revoked[0] != "fam-1" {
		t.Fatalf("family not revoked: %v", revoked)
	}

	revoked = nil
	deps.GetUserByID = func(context.Context, string) (User, error) { return User{}, errStorage }
	res = RunRefresh(context.Background(), "presented", deps)
	if res.Failure != RefreshFailureStorage || len(revoked) != 0 {
		t.Fatalf("user store outage must not revoke: %v %v", res.Failure, revoked)
	}
}
