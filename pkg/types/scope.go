// Package types defines the shared domain types for the MediaRec
// reconciliation engine: owner scopes, asset records, storage objects,
// and owner tag sets.
package types

import (
	"fmt"
	"strings"
	"time"
)

// OwnerKind identifies the logical parent kind of a group of assets.
type OwnerKind string

const (
	OwnerCustomer OwnerKind = "customer"
	OwnerBlogPost OwnerKind = "blog_post"
	OwnerCampaign OwnerKind = "campaign_message"
	OwnerUnscoped OwnerKind = "unscoped"

	// OwnerAll is the pseudo-kind for a global reconciliation scope.
	OwnerAll OwnerKind = "all"
)

// OwnerScope identifies the logical parent of a group of assets plus an
// optional date bucket. It determines the canonical path prefix and the
// dedup partition key.
type OwnerScope struct {
	Kind OwnerKind `json:"kind" yaml:"kind"`

	// ID is the owner identifier (customer id, blog post id, campaign id).
	// Empty for unscoped and all.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Category groups unscoped assets (e.g. "products", "goods").
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	// DateBucket narrows the scope to one bucket, YYYY-MM or YYYY-MM-DD
	// depending on the owner kind's granularity. Empty means all buckets.
	DateBucket string `json:"date_bucket,omitempty" yaml:"date_bucket,omitempty"`
}

// ScopeAll is the global reconciliation scope.
var ScopeAll = OwnerScope{Kind: OwnerAll}

// IsAll reports whether the scope covers the entire catalog.
func (s OwnerScope) IsAll() bool {
	return s.Kind == OwnerAll
}

// Key returns the dedup partition key for the scope. Assets sharing a Key
// participate in the same duplicate-group partition. The date bucket is
// deliberately excluded: the same bytes uploaded under two dates for one
// owner are still duplicates.
func (s OwnerScope) Key() string {
	switch s.Kind {
	case OwnerUnscoped:
		if s.Category != "" {
			return "unscoped:" + s.Category
		}
		return "unscoped"
	case OwnerAll:
		return "all"
	default:
		return string(s.Kind) + ":" + s.ID
	}
}

// String returns the canonical textual form also accepted by ParseScope,
// e.g. "customer:a@2026-01-05" or "all".
func (s OwnerScope) String() string {
	out := s.Key()
	if s.DateBucket != "" {
		out += "@" + s.DateBucket
	}
	return out
}

// Validate checks the scope's structural invariants.
func (s OwnerScope) Validate() error {
	switch s.Kind {
	case OwnerCustomer, OwnerBlogPost, OwnerCampaign:
		if s.ID == "" {
			return fmt.Errorf("scope %s requires an owner id", s.Kind)
		}
	case OwnerUnscoped, OwnerAll:
		if s.ID != "" {
			return fmt.Errorf("scope %s must not carry an owner id", s.Kind)
		}
	default:
		return fmt.Errorf("unknown owner kind %q", s.Kind)
	}
	if s.DateBucket != "" {
		if err := validateDateBucket(s.DateBucket); err != nil {
			return err
		}
	}
	return nil
}

// validateDateBucket accepts YYYY-MM or YYYY-MM-DD calendar dates.
// Shape alone is not enough; "2026-13-99" must be rejected.
func validateDateBucket(bucket string) error {
	layout := "2006-01"
	if len(bucket) == len("2006-01-02") {
		layout = "2006-01-02"
	}
	if _, err := time.Parse(layout, bucket); err != nil {
		return fmt.Errorf("invalid date bucket %q (want YYYY-MM or YYYY-MM-DD)", bucket)
	}
	return nil
}

// ParseScope parses the textual scope form produced by String:
// "all", "unscoped", "unscoped:<category>", "<kind>:<id>", each optionally
// suffixed with "@<date-bucket>".
func ParseScope(raw string) (OwnerScope, error) {
	var scope OwnerScope
	body := raw
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		scope.DateBucket = raw[at+1:]
		body = raw[:at]
	}

	switch {
	case body == "all":
		scope.Kind = OwnerAll
	case body == "unscoped":
		scope.Kind = OwnerUnscoped
	case strings.HasPrefix(body, "unscoped:"):
		scope.Kind = OwnerUnscoped
		scope.Category = strings.TrimPrefix(body, "unscoped:")
	default:
		kind, id, ok := strings.Cut(body, ":")
		if !ok {
			return OwnerScope{}, fmt.Errorf("invalid scope %q", raw)
		}
		scope.Kind = OwnerKind(kind)
		scope.ID = id
	}

	if err := scope.Validate(); err != nil {
		return OwnerScope{}, err
	}
	return scope, nil
}
