package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind classifies a denial.
type Kind string

// Denial kinds.
const (
	KindAuthorization     Kind = "authorization_denied"
	KindValidation        Kind = "validation_failed"
	KindBusinessRule      Kind = "business_rule_violation"
	KindRateLimited       Kind = "rate_limited"
	KindCatalogRestricted Kind = "permission_catalog_restricted"
)

// Standard denial reasons.
const (
	ReasonCannotManage      = "you cannot manage a user with equal or higher privileges than your own"
	ReasonCannotAssign      = "cannot assign a role with equal or higher privileges than your own"
	ReasonCannotEditRole    = "you cannot modify a role with equal or higher privileges than your own"
	ReasonCatalogRestricted = "only super administrators can modify the permission catalog"
	ReasonLastAdmin         = "this action would leave the system without an administrator"
	ReasonRoleInUse         = "role is still assigned to one or more users"
	ReasonThrottled         = "too many destructive bulk actions, try again later"
)

// Denial is a typed, non-fatal refusal produced by the guard.
type Denial struct {
	Kind       Kind
	Field      string
	Reason     string
	RetryAfter time.Duration
}

func (d *Denial) Error() string {
	if d.Field != "" {
		return fmt.Sprintf("authz: %s: %s: %s", d.Kind, d.Field, d.Reason)
	}
	return fmt.Sprintf("authz: %s: %s", d.Kind, d.Reason)
}

// Deny builds a denial of the given kind.
func Deny(kind Kind, field, reason string) *Denial {
	return &Denial{Kind: kind, Field: field, Reason: reason}
}

// Violations aggregates the denials found while validating a single request.
// FieldLevel marks a whole-request validation whose items are reported per
// field rather than as a single-target refusal.
type Violations struct {
	Items      []*Denial
	FieldLevel bool
}

// Add appends a denial.
func (v *Violations) Add(d *Denial) {
	v.Items = append(v.Items, d)
}

// Empty reports whether nothing was recorded.
func (v *Violations) Empty() bool {
	return v == nil || len(v.Items) == 0
}

// Err returns v as an error, or nil when empty.
func (v *Violations) Err() error {
	if v.Empty() {
		return nil
	}
	return v
}

// Kind returns the dominant kind, preferring the most specific failure.
func (v *Violations) Kind() Kind {
	if v.Empty() {
		return ""
	}
	for _, k := range []Kind{KindRateLimited, KindAuthorization, KindBusinessRule} {
		for _, d := range v.Items {
			if d.Kind == k {
				return k
			}
		}
	}
	return v.Items[0].Kind
}

// Fields groups reasons by field. Denials without a field are reported under "general".
func (v *Violations) Fields() map[string][]string {
	out := make(map[string][]string)
	if v == nil {
		return out
	}
	for _, d := range v.Items {
		field := d.Field
		if field == "" {
			field = "general"
		}
		out[field] = append(out[field], d.Reason)
	}
	return out
}

func (v *Violations) Error() string {
	fields := v.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(fields[k], "; "))
	}
	return "authz: validation failed: " + strings.Join(parts, ", ")
}

// AsDenial extracts a single denial from err.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// AsViolations extracts aggregated violations from err.
func AsViolations(err error) (*Violations, bool) {
	var v *Violations
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// IsDenied reports whether err is a guard refusal rather than an infrastructure failure.
func IsDenied(err error) bool {
	if _, ok := AsDenial(err); ok {
		return true
	}
	_, ok := AsViolations(err)
	return ok
}
