// Package collection describes the logical datasets clients submit requests
// against: which roles may use them, how many concurrent requests they admit,
// and which datasource serves them.
package collection

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// Limits caps concurrently active requests (queued-admitted + processing) per
// collection and per user. Zero means unlimited.
type Limits struct {
	Total   int `json:"total"`
	PerUser int `json:"per_user"`
	// PerRole maps realm -> role -> limit. When a user holds several matching
	// roles the highest limit wins; when none match, PerUser applies.
	PerRole map[string]map[string]int `json:"per_role,omitempty"`
}

// FederationLink points a collection at a remote gateway instance.
type FederationLink struct {
	URL        string `json:"url"`
	Secret     string `json:"secret"`
	Collection string `json:"collection"`
	MaxHops    int    `json:"max_hops"`
}

// Collection is one configured dataset endpoint.
type Collection struct {
	Name       string              `json:"-"`
	Roles      map[string][]string `json:"roles,omitempty"` // realm -> allowed roles
	Limits     Limits              `json:"limits"`
	Datasource string              `json:"datasource"` // "echo" or "federated"
	Federation *FederationLink     `json:"federation,omitempty"`
}

// Collections is the full configured set, keyed by name.
type Collections map[string]*Collection

// Load parses the collections configuration from a JSON file.
func Load(path string) (Collections, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read collections config: %w", err)
	}
	return Parse(raw)
}

// Parse parses the collections configuration from JSON bytes.
func Parse(raw []byte) (Collections, error) {
	var cols Collections
	if err := json.Unmarshal(raw, &cols); err != nil {
		return nil, fmt.Errorf("parse collections config: %w", err)
	}
	for name, c := range cols {
		c.Name = name
		if c.Datasource == "" {
			return nil, fmt.Errorf("collection %s: no datasource configured", name)
		}
		if c.Datasource == "federated" && c.Federation == nil {
			return nil, fmt.Errorf("collection %s: federated datasource needs a federation link", name)
		}
	}
	return cols, nil
}

// UserLimit returns the effective per-user concurrency limit for a user in
// this collection: the highest matching role limit for the user's realm, or
// the collection per-user limit when no role matches. Zero means unlimited.
func (c *Collection) UserLimit(u request.User) int {
	limit := 0
	for _, role := range u.Roles {
		if l := c.Limits.PerRole[u.Realm][role]; l > limit {
			limit = l
		}
	}
	if limit == 0 {
		limit = c.Limits.PerUser
	}
	return limit
}

// Authorized reports whether the user holds any role granting access to the
// collection. Collections with no role configuration are open to everyone.
func (c *Collection) Authorized(u request.User) bool {
	if len(c.Roles) == 0 {
		return true
	}
	allowed, ok := c.Roles[u.Realm]
	if !ok {
		return false
	}
	for _, need := range allowed {
		for _, have := range u.Roles {
			if need == have {
				return true
			}
		}
	}
	return false
}
