// Package api holds the public types shared by the stores, the modules and
// the transport adapter. They describe persisted documents, so changing a
// json tag is a data migration.
package api

import (
	"fmt"
	"strconv"
)

// Snowflake is a platform-assigned numeric id (tenant, user or role).
// It is encoded as a decimal string in JSON so it can key maps and survive
// JavaScript clients.
type Snowflake uint64

func (s Snowflake) String() string { return strconv.FormatUint(uint64(s), 10) }

// ParseSnowflake parses a decimal id.
func ParseSnowflake(s string) (Snowflake, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse id %q: %w", s, err)
	}
	return Snowflake(v), nil
}

func (s Snowflake) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Snowflake) UnmarshalText(b []byte) error {
	v, err := ParseSnowflake(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ActivationRecord is the persisted, ordered list of module ids a tenant has
// enabled. The module manager itself is never listed.
type ActivationRecord []string

// GrantTable maps a permission namespace (the owning module id) to the
// permission ids granted to each actor, user or role, in that namespace.
type GrantTable struct {
	Namespaces map[string]map[Snowflake][]string `json:"namespaces"`
}

// Allows reports whether the actor, directly or through one of its roles,
// holds permission in namespace.
func (g *GrantTable) Allows(namespace string, actor Snowflake, roles []Snowflake, permission string) bool {
	grants := g.Namespaces[namespace]
	if grants == nil {
		return false
	}
	if contains(grants[actor], permission) {
		return true
	}
	for _, role := range roles {
		if contains(grants[role], permission) {
			return true
		}
	}
	return false
}

// Grant adds permission for target. It returns false if it was already granted.
func (g *GrantTable) Grant(namespace string, target Snowflake, permission string) bool {
	if g.Namespaces == nil {
		g.Namespaces = map[string]map[Snowflake][]string{}
	}
	grants := g.Namespaces[namespace]
	if grants == nil {
		grants = map[Snowflake][]string{}
		g.Namespaces[namespace] = grants
	}
	if contains(grants[target], permission) {
		return false
	}
	grants[target] = append(grants[target], permission)
	return true
}

// Revoke removes permission from target. It returns false if it was not granted.
func (g *GrantTable) Revoke(namespace string, target Snowflake, permission string) bool {
	grants := g.Namespaces[namespace]
	if grants == nil || !contains(grants[target], permission) {
		return false
	}
	kept := grants[target][:0]
	for _, p := range grants[target] {
		if p != permission {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(grants, target)
	} else {
		grants[target] = kept
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
