// Package federation presents a remote gateway instance as a datasource and
// implements the trust model for requests forwarded between instances.
//
// Authentication and authorization are deliberately decoupled at the trust
// boundary: the receiving instance trusts the pre-shared secret in place of
// authenticating the end user, but still authorizes the forwarded identity
// against its local collection roles.
package federation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// ForwardedHeader carries the forwarded identity alongside the Authorization
// credential so the remote instance can authorize without re-authenticating.
const ForwardedHeader = "X-Polytope-Forwarded"

// hopsAttribute records how many instances a request has traversed. It rides
// in the user attribute snapshot so it survives the store round trip.
const hopsAttribute = "polytope-hops"

// Identity is the capability-delegation payload: an explicit struct rather
// than a re-derived token, so the decoupling of authentication from
// authorization stays auditable.
type Identity struct {
	Username   string            `json:"username"`
	Realm      string            `json:"realm"`
	Roles      []string          `json:"roles,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Hops       int               `json:"hops"`
}

// ErrTooManyHops means a configuration cycle forwarded the request past the
// allowed maximum.
var ErrTooManyHops = errors.New("federation hop limit exceeded")

// ErrBadCredential means the Authorization header was not a valid federation
// credential or the secret did not match.
var ErrBadCredential = errors.New("invalid federation credential")

// ErrRealmNotAllowed means the trust configuration does not permit forwarding
// users from the presented realm.
var ErrRealmNotAllowed = errors.New("realm not allowed for federation")

// IdentityOf rebuilds the forwarded identity from a user snapshot.
func IdentityOf(u request.User) Identity {
	hops := 0
	if raw, ok := u.Attributes[hopsAttribute]; ok {
		fmt.Sscanf(raw, "%d", &hops)
	}
	return Identity{
		Username:   u.Username,
		Realm:      u.Realm,
		Roles:      u.Roles,
		Attributes: u.Attributes,
		Hops:       hops,
	}
}

// User materializes the identity as a local user snapshot, recording the hop
// count in the attributes.
func (id Identity) User() request.User {
	u := request.NewUser(id.Username, id.Realm)
	u.Roles = id.Roles
	u.Attributes = map[string]string{}
	for k, v := range id.Attributes {
		u.Attributes[k] = v
	}
	u.Attributes[hopsAttribute] = fmt.Sprintf("%d", id.Hops)
	return u
}

// Encode serializes the identity for the forwarded header.
func (id Identity) Encode() (string, error) {
	raw, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encode forwarded identity: %w", err)
	}
	return string(raw), nil
}

// DecodeIdentity parses a forwarded identity header.
func DecodeIdentity(raw string) (Identity, error) {
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		return Identity{}, fmt.Errorf("decode forwarded identity: %w", err)
	}
	return id, nil
}

// Trust is the receiving side's federation configuration.
type Trust struct {
	Secret        string
	AllowedRealms []string // empty means any realm
	MaxHops       int
}

// Authenticate validates a "Federation <secret>:<username>:<realm>" credential
// plus the forwarded identity header, returning the delegated user snapshot.
// The caller must still authorize that user against collection roles.
func (t Trust) Authenticate(authHeader, forwardedHeader string) (request.User, error) {
	credential, ok := strings.CutPrefix(authHeader, "Federation ")
	if !ok {
		return request.User{}, fmt.Errorf("not a federation credential: %w", ErrBadCredential)
	}
	parts := strings.SplitN(credential, ":", 3)
	if len(parts) != 3 {
		return request.User{}, fmt.Errorf("credential could not be unpacked: %w", ErrBadCredential)
	}
	secret, username, realm := parts[0], parts[1], parts[2]

	if secret != t.Secret {
		return request.User{}, ErrBadCredential
	}
	if len(t.AllowedRealms) > 0 && !contains(t.AllowedRealms, realm) {
		return request.User{}, fmt.Errorf("realm %s: %w", realm, ErrRealmNotAllowed)
	}

	id := Identity{Username: username, Realm: realm, Hops: 1}
	if forwardedHeader != "" {
		decoded, err := DecodeIdentity(forwardedHeader)
		if err != nil {
			return request.User{}, err
		}
		if decoded.Username != username || decoded.Realm != realm {
			return request.User{}, fmt.Errorf("forwarded identity does not match credential: %w", ErrBadCredential)
		}
		id = decoded
	}

	if t.MaxHops > 0 && id.Hops > t.MaxHops {
		return request.User{}, fmt.Errorf("%d hops: %w", id.Hops, ErrTooManyHops)
	}
	return id.User(), nil
}

// IsFederation reports whether the Authorization header uses the federation scheme.
func IsFederation(authHeader string) bool {
	return strings.HasPrefix(authHeader, "Federation ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
