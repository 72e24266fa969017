// Package revision implements the scheduled revision log kept beside each
// revisioned collection.
//
// Every mutation of a master document is recorded as a Revision in the
// sibling "<collection>_revisions" collection. Pending revisions carry a
// future time of action (toa, epoch seconds); the publisher applies them once
// due. Applied revisions are retained as history together with an after-image
// snapshot of the master document.
package revision

import (
	"fmt"

	"caesium/docstore"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
)

// Action is the kind of mutation a revision performs on its master document.
type Action string

const (
	// ActionInsert creates the master document with a predetermined id.
	ActionInsert Action = "insert"
	// ActionUpdate applies the revision patch as a $set.
	ActionUpdate Action = "update"
	// ActionDelete removes the master document.
	ActionDelete Action = "delete"
)

// MigratedComment marks revisions created by lazy migration.
const MigratedComment = "This document was migrated automatically."

// Revision is a scheduled or applied mutation of a master document.
//
// Exactly one action holds per revision, and Patch is nil if and only if the
// action is delete. InProcess is set only while a publisher holds a claim on
// the revision; it is stored omitempty so that unclaimed revisions match the
// publisher's null-or-absent scan.
type Revision struct {
	ID         string                 `bson:"id,omitempty" json:"id,omitempty"`
	TOA        int64                  `bson:"toa" json:"toa" validate:"required"`
	Processed  bool                   `bson:"processed" json:"processed"`
	InProcess  bool                   `bson:"inProcess,omitempty" json:"inProcess,omitempty"`
	Collection string                 `bson:"collection" json:"collection" validate:"required"`
	MasterID   string                 `bson:"master_id" json:"master_id" validate:"required,len=24,hexadecimal"`
	Action     Action                 `bson:"action" json:"action" validate:"required,oneof=insert update delete"`
	Patch      map[string]interface{} `bson:"patch" json:"patch" validate:"required_unless=Action delete,excluded_if=Action delete"`
	Snapshot   map[string]interface{} `bson:"snapshot,omitempty" json:"snapshot,omitempty"`
	Meta       map[string]interface{} `bson:"meta" json:"meta"`
}

var validate = validator.New()

// Validate checks the revision record against its schema.
func (r *Revision) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// document renders the revision in its storeable form. The id is never
// included: the store assigns it on insert. A nil Patch is stored as an
// explicit null.
func (r *Revision) document() docstore.Document {
	doc := docstore.Document{
		"toa":        r.TOA,
		"processed":  r.Processed,
		"collection": r.Collection,
		"master_id":  r.MasterID,
		"action":     string(r.Action),
		"patch":      r.Patch,
		"meta":       r.Meta,
	}
	if r.InProcess {
		doc["inProcess"] = true
	}
	if r.Snapshot != nil {
		doc["snapshot"] = r.Snapshot
	}
	return doc
}

// FromDocument decodes a revision from its boundary document form.
func FromDocument(doc docstore.Document) (*Revision, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode revision document: %w", err)
	}

	var r Revision
	if err := bson.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode revision document: %w", err)
	}
	return &r, nil
}

func revisionsFromDocuments(docs []docstore.Document) ([]*Revision, error) {
	revs := make([]*Revision, 0, len(docs))
	for _, doc := range docs {
		r, err := FromDocument(doc)
		if err != nil {
			return nil, err
		}
		revs = append(revs, r)
	}
	return revs, nil
}
