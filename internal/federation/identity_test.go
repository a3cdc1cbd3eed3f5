package federation

import (
	"errors"
	"testing"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

func TestAuthenticateValidCredential(t *testing.T) {
	trust := Trust{Secret: "s3cret", MaxHops: 3}

	user, err := trust.Authenticate("Federation s3cret:alice:ldap", "")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if user.Username != "alice" || user.Realm != "ldap" {
		t.Fatalf("unexpected identity: %+v", user)
	}
	if user.ID != request.NewUser("alice", "ldap").ID {
		t.Fatal("forwarded user must map to the same stable id as a local login")
	}
}

func TestAuthenticateWrongSecret(t *testing.T) {
	trust := Trust{Secret: "s3cret"}
	if _, err := trust.Authenticate("Federation wrong:alice:ldap", ""); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential, got %v", err)
	}
}

func TestAuthenticateMalformedCredential(t *testing.T) {
	trust := Trust{Secret: "s3cret"}
	for _, header := range []string{"Bearer abc", "Federation s3cret", "Federation s3cret:alice"} {
		if _, err := trust.Authenticate(header, ""); !errors.Is(err, ErrBadCredential) {
			t.Errorf("%q: expected ErrBadCredential, got %v", header, err)
		}
	}
}

func TestAuthenticateRealmAllowlist(t *testing.T) {
	trust := Trust{Secret: "s3cret", AllowedRealms: []string{"ldap"}}

	if _, err := trust.Authenticate("Federation s3cret:alice:ldap", ""); err != nil {
		t.Fatalf("allowed realm rejected: %v", err)
	}
	if _, err := trust.Authenticate("Federation s3cret:eve:oidc", ""); !errors.Is(err, ErrRealmNotAllowed) {
		t.Fatalf("expected ErrRealmNotAllowed, got %v", err)
	}
}

func TestAuthenticateForwardedIdentity(t *testing.T) {
	trust := Trust{Secret: "s3cret", MaxHops: 3}
	forwarded, err := Identity{
		Username: "alice",
		Realm:    "ldap",
		Roles:    []string{"analyst"},
		Hops:     2,
	}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	user, err := trust.Authenticate("Federation s3cret:alice:ldap", forwarded)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if len(user.Roles) != 1 || user.Roles[0] != "analyst" {
		t.Fatalf("roles not carried: %+v", user)
	}
	if got := IdentityOf(user); got.Hops != 2 {
		t.Fatalf("hop count lost in the user snapshot: %d", got.Hops)
	}
}

func TestAuthenticateForwardedIdentityMismatch(t *testing.T) {
	trust := Trust{Secret: "s3cret"}
	forged, _ := Identity{Username: "admin", Realm: "ldap"}.Encode()
	if _, err := trust.Authenticate("Federation s3cret:alice:ldap", forged); !errors.Is(err, ErrBadCredential) {
		t.Fatalf("expected ErrBadCredential for forged identity, got %v", err)
	}
}

func TestAuthenticateHopLimit(t *testing.T) {
	trust := Trust{Secret: "s3cret", MaxHops: 2}
	over, _ := Identity{Username: "alice", Realm: "ldap", Hops: 3}.Encode()
	if _, err := trust.Authenticate("Federation s3cret:alice:ldap", over); !errors.Is(err, ErrTooManyHops) {
		t.Fatalf("expected ErrTooManyHops, got %v", err)
	}
}

func TestIdentityHopsRoundTrip(t *testing.T) {
	id := Identity{Username: "alice", Realm: "ldap", Hops: 2}
	got := IdentityOf(id.User())
	if got.Hops != 2 {
		t.Fatalf("expected 2 hops after round trip, got %d", got.Hops)
	}
}

func TestIsFederation(t *testing.T) {
	if !IsFederation("Federation s:u:r") {
		t.Fatal("federation scheme not recognized")
	}
	if IsFederation("Bearer token") {
		t.Fatal("bearer scheme misrecognized")
	}
}
