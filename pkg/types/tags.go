package types

import (
	"fmt"
	"sort"
	"strings"
)

// Owner tag prefixes. A tag set carries exactly one owner tag plus any
// number of date- and category- tags.
const (
	TagPrefixCustomer = "customer-"
	TagPrefixBlog     = "blog-"
	TagPrefixCampaign = "campaign-"
	TagPrefixDate     = "date-"
	TagPrefixCategory = "category-"
)

// TagSet is a validated, order-insensitive set of owner tags.
type TagSet map[string]struct{}

// NewTagSet builds a tag set from its members.
func NewTagSet(tags ...string) TagSet {
	ts := make(TagSet, len(tags))
	for _, t := range tags {
		ts[t] = struct{}{}
	}
	return ts
}

// TagsForScope returns the tag set an asset under the given scope should
// carry. The date bucket, when present, becomes a date- tag.
func TagsForScope(scope OwnerScope) TagSet {
	ts := make(TagSet)
	switch scope.Kind {
	case OwnerCustomer:
		ts[TagPrefixCustomer+scope.ID] = struct{}{}
	case OwnerBlogPost:
		ts[TagPrefixBlog+scope.ID] = struct{}{}
	case OwnerCampaign:
		ts[TagPrefixCampaign+scope.ID] = struct{}{}
	case OwnerUnscoped:
		if scope.Category != "" {
			ts[TagPrefixCategory+scope.Category] = struct{}{}
		}
	}
	if scope.DateBucket != "" {
		ts[TagPrefixDate+scope.DateBucket] = struct{}{}
	}
	return ts
}

// Has reports membership.
func (ts TagSet) Has(tag string) bool {
	_, ok := ts[tag]
	return ok
}

// Add inserts a tag and returns the set for chaining.
func (ts TagSet) Add(tag string) TagSet {
	ts[tag] = struct{}{}
	return ts
}

// Sorted returns the members in lexicographic order.
func (ts TagSet) Sorted() []string {
	out := make([]string, 0, len(ts))
	for t := range ts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether two sets hold the same members.
func (ts TagSet) Equal(other TagSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for t := range ts {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

// ScopeKey derives the dedup partition key from the set's owner tag.
// Sets without an owner tag partition as "unscoped" (optionally refined
// by a category tag).
func (ts TagSet) ScopeKey() string {
	for t := range ts {
		switch {
		case strings.HasPrefix(t, TagPrefixCustomer):
			return string(OwnerCustomer) + ":" + strings.TrimPrefix(t, TagPrefixCustomer)
		case strings.HasPrefix(t, TagPrefixBlog):
			return string(OwnerBlogPost) + ":" + strings.TrimPrefix(t, TagPrefixBlog)
		case strings.HasPrefix(t, TagPrefixCampaign):
			return string(OwnerCampaign) + ":" + strings.TrimPrefix(t, TagPrefixCampaign)
		}
	}
	for t := range ts {
		if strings.HasPrefix(t, TagPrefixCategory) {
			return "unscoped:" + strings.TrimPrefix(t, TagPrefixCategory)
		}
	}
	return "unscoped"
}

// Validate rejects malformed members and sets with more than one owner tag.
func (ts TagSet) Validate() error {
	owners := 0
	for t := range ts {
		switch {
		case strings.HasPrefix(t, TagPrefixCustomer),
			strings.HasPrefix(t, TagPrefixBlog),
			strings.HasPrefix(t, TagPrefixCampaign):
			owners++
		case strings.HasPrefix(t, TagPrefixDate):
			if validateDateBucket(strings.TrimPrefix(t, TagPrefixDate)) != nil {
				return fmt.Errorf("invalid date tag %q", t)
			}
		case strings.HasPrefix(t, TagPrefixCategory):
		default:
			return fmt.Errorf("unknown tag form %q", t)
		}
	}
	if owners > 1 {
		return fmt.Errorf("tag set carries %d owner tags, at most one allowed", owners)
	}
	return nil
}
