// Package pathconv implements the canonical storage path convention.
//
// Owner-scoped assets live at
// originals/<owner-kind>/<owner-id>/<date-bucket>/<owner-slug>-<seq>.<ext>,
// unscoped assets at originals/<category>/<date-bucket>/<seq>.<ext>.
// The resolver is deterministic and performs no I/O.
package pathconv

import (
	"fmt"
	"path"
	"strings"

	"github.com/mediarec/mediarec/internal/errors"
	"github.com/mediarec/mediarec/pkg/types"
)

// DefaultBasePrefix is the root prefix all canonical paths live under.
const DefaultBasePrefix = "originals"

// Path segments per owner kind.
var kindSegments = map[types.OwnerKind]string{
	types.OwnerCustomer: "customers",
	types.OwnerBlogPost: "blogs",
	types.OwnerCampaign: "campaigns",
}

// Derivative filename markers. Objects carrying one are resized/preview
// copies, not assets in their own right, and are excluded from the
// reconciliation universe entirely.
var derivativeMarkers = []string{
	"_thumb", "-thumb", "_small", "-small", "-resized", "_resized",
	"-preview", "_preview",
}

// Placeholder filenames some storage backends create for empty folders.
var placeholderNames = map[string]bool{
	".emptyFolderPlaceholder": true,
	".keep":                   true,
	".gitkeep":                true,
}

// Convention resolves canonical paths under a base prefix.
type Convention struct {
	BasePrefix string
}

// Default returns the convention rooted at DefaultBasePrefix.
func Default() Convention {
	return Convention{BasePrefix: DefaultBasePrefix}
}

// Resolve derives the canonical storage path for an asset. seq is the
// caller's sequence hint; the resolver does not guarantee the slot is
// free (see FirstFree).
func (c Convention) Resolve(scope types.OwnerScope, seq int, ext string) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "invalid scope", err)
	}
	if scope.IsAll() {
		return "", errors.New(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "cannot resolve a path for the global scope")
	}
	ext = strings.TrimPrefix(ext, ".")
	bucket := scope.DateBucket
	if bucket == "" {
		return "", errors.New(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "canonical paths require a date bucket")
	}

	if scope.Kind == types.OwnerUnscoped {
		category := scope.Category
		if category == "" {
			category = "uploaded"
		}
		return path.Join(c.base(), category, bucket, fmt.Sprintf("%d.%s", seq, ext)), nil
	}

	slug, err := Slugify(scope.ID)
	if err != nil {
		return "", err
	}
	return path.Join(c.base(), kindSegments[scope.Kind], slug, bucket,
		fmt.Sprintf("%s-%d.%s", slug, seq, ext)), nil
}

// FirstFree returns the first canonical path at or after seq whose slot
// is free according to taken. Callers use this to avoid collisions before
// a create action.
func (c Convention) FirstFree(scope types.OwnerScope, seq int, ext string, taken func(string) bool) (string, error) {
	for {
		p, err := c.Resolve(scope, seq, ext)
		if err != nil {
			return "", err
		}
		if taken == nil || !taken(p) {
			return p, nil
		}
		seq++
	}
}

// PrefixFor returns the listing prefix covering the scope. The global
// scope maps to the base prefix itself.
func (c Convention) PrefixFor(scope types.OwnerScope) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", errors.Wrap(errors.ErrCategoryValidation, errors.CodeInvalidConfig, "invalid scope", err)
	}
	if scope.IsAll() {
		return c.base() + "/", nil
	}
	var parts []string
	if scope.Kind == types.OwnerUnscoped {
		if scope.Category == "" {
			return c.base() + "/", nil
		}
		parts = []string{c.base(), scope.Category}
	} else {
		slug, err := Slugify(scope.ID)
		if err != nil {
			return "", err
		}
		parts = []string{c.base(), kindSegments[scope.Kind], slug}
	}
	if scope.DateBucket != "" {
		parts = append(parts, scope.DateBucket)
	}
	return path.Join(parts...) + "/", nil
}

// Matches reports whether p already follows the current convention for
// its scope: correct prefix, a date-bucket segment, and a slug-seq
// filename. It is the tie-break input for duplicate groups.
func (c Convention) Matches(p string, scope types.OwnerScope) bool {
	prefix, err := c.PrefixFor(scope)
	if err != nil || !strings.HasPrefix(p, prefix) {
		return false
	}
	rest := strings.TrimPrefix(p, prefix)
	segs := strings.Split(rest, "/")

	// Without a date bucket in the scope, the next segment must be one.
	if scope.DateBucket == "" {
		if len(segs) != 2 || !validBucket(segs[0]) {
			return false
		}
		segs = segs[1:]
	}
	if len(segs) != 1 {
		return false
	}
	name := segs[0]
	if IsDerivative(name) || IsPlaceholder(name) {
		return false
	}
	base := strings.TrimSuffix(name, path.Ext(name))
	if scope.Kind == types.OwnerUnscoped {
		return isAllDigits(base)
	}
	slug, err := Slugify(scope.ID)
	if err != nil {
		return false
	}
	seq, found := strings.CutPrefix(base, slug+"-")
	return found && isAllDigits(seq)
}

// IsDerivative reports whether a filename carries a derivative marker.
func IsDerivative(name string) bool {
	base := strings.TrimSuffix(name, path.Ext(name))
	for _, m := range derivativeMarkers {
		if strings.HasSuffix(base, m) {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether a filename is a folder placeholder.
func IsPlaceholder(name string) bool {
	return placeholderNames[name]
}

// Excluded reports whether an object path is outside the reconciliation
// universe (derivative or placeholder leaf).
func Excluded(p string) bool {
	name := path.Base(p)
	return IsDerivative(name) || IsPlaceholder(name)
}

// Slugify transliterates an owner identifier into the safe character set
// (lowercase letters, digits, hyphen). Identifiers with no representable
// characters are rejected with INVALID_OWNER_IDENTIFIER rather than
// silently truncated.
func Slugify(id string) (string, error) {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r == '-' || r == '_' || r == ' ' || r == '.':
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		default:
			// Characters outside the safe set (e.g. Hangul) are dropped;
			// if nothing survives, the identifier is rejected below.
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "", errors.NewInvalidOwnerIdentifier(id)
	}
	return slug, nil
}

func (c Convention) base() string {
	if c.BasePrefix == "" {
		return DefaultBasePrefix
	}
	return strings.Trim(c.BasePrefix, "/")
}

func validBucket(s string) bool {
	if len(s) != 7 && len(s) != 10 {
		return false
	}
	for i, r := range s {
		if i == 4 || i == 7 {
			if r != '-' {
				return false
			}
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
