// Package repair turns diff results into repair plans and applies them.
// Planning is a pure transform; execution is idempotent per action and
// never transactional across actions.
package repair

import (
	"fmt"
	"strings"

	"github.com/mediarec/mediarec/pkg/types"
)

// ActionKind tags the repair action variants.
type ActionKind string

const (
	ActionCreateMetadata  ActionKind = "create_metadata"
	ActionDeleteMetadata  ActionKind = "delete_metadata"
	ActionDeleteObject    ActionKind = "delete_object"
	ActionRelabelTags     ActionKind = "relabel_tags"
	ActionMergeDuplicates ActionKind = "merge_duplicates"
)

// Action is one repair step. It carries enough information to be applied
// without re-reading the diff, and is consumed exactly once by the
// executor (or discarded in dry-run mode). Actions are never persisted.
type Action struct {
	Kind ActionKind `json:"kind"`

	// ScopeKey partitions actions for the executor: actions sharing a
	// scope key are applied strictly sequentially.
	ScopeKey string `json:"scope_key"`

	// Object is the orphan to catalog (CreateMetadata).
	Object *types.StorageObject `json:"object,omitempty"`

	// Tags are the owner tags for a created row (CreateMetadata) or the
	// replacement tags (RelabelTags).
	Tags types.TagSet `json:"tags,omitempty"`

	// CanonicalPath is the convention path the asset should eventually
	// live at, informational for plan review (CreateMetadata).
	CanonicalPath string `json:"canonical_path,omitempty"`

	// RecordID targets a catalog row (DeleteMetadata, RelabelTags).
	RecordID string `json:"record_id,omitempty"`

	// Path targets a storage object (DeleteObject).
	Path string `json:"path,omitempty"`

	// ObservedHash and ObservedSize carry the store-side ground truth
	// for a mismatch correction (RelabelTags).
	ObservedHash string `json:"observed_hash,omitempty"`
	ObservedSize int64  `json:"observed_size,omitempty"`

	// KeepID and DeleteIDs describe a duplicate merge.
	KeepID    string   `json:"keep_id,omitempty"`
	DeleteIDs []string `json:"delete_ids,omitempty"`
}

// String renders a short human-reviewable form.
func (a Action) String() string {
	switch a.Kind {
	case ActionCreateMetadata:
		return fmt.Sprintf("create-metadata %s", a.Object.Path)
	case ActionDeleteMetadata:
		return fmt.Sprintf("delete-metadata %s", a.RecordID)
	case ActionDeleteObject:
		return fmt.Sprintf("delete-object %s", a.Path)
	case ActionRelabelTags:
		return fmt.Sprintf("relabel %s", a.RecordID)
	case ActionMergeDuplicates:
		return fmt.Sprintf("merge-duplicates keep=%s delete=%s", a.KeepID, strings.Join(a.DeleteIDs, ","))
	default:
		return string(a.Kind)
	}
}
