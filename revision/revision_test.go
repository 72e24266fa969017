package revision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func validRevision() *Revision {
	return &Revision{
		TOA:        1700000000,
		Collection: "pages",
		MasterID:   primitive.NewObjectID().Hex(),
		Action:     ActionUpdate,
		Patch:      map[string]interface{}{"title": "new"},
		Meta:       map[string]interface{}{},
	}
}

func TestRevisionValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, validRevision().Validate())
	})

	t.Run("MissingTOA", func(t *testing.T) {
		rev := validRevision()
		rev.TOA = 0
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("MissingCollection", func(t *testing.T) {
		rev := validRevision()
		rev.Collection = ""
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("ShortMasterID", func(t *testing.T) {
		rev := validRevision()
		rev.MasterID = "abc123"
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("NonHexMasterID", func(t *testing.T) {
		rev := validRevision()
		rev.MasterID = "zzzzzzzzzzzzzzzzzzzzzzzz"
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("UnknownAction", func(t *testing.T) {
		rev := validRevision()
		rev.Action = "upsert"
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("UpdateRequiresPatch", func(t *testing.T) {
		rev := validRevision()
		rev.Patch = nil
		assertSchemaViolation(t, rev.Validate())
	})

	t.Run("EmptyPatchIsValid", func(t *testing.T) {
		rev := validRevision()
		rev.Patch = map[string]interface{}{}
		assert.NoError(t, rev.Validate(), "An empty patch is a no-op update, not a violation")
	})

	t.Run("DeleteExcludesPatch", func(t *testing.T) {
		rev := validRevision()
		rev.Action = ActionDelete
		assertSchemaViolation(t, rev.Validate())

		rev.Patch = nil
		assert.NoError(t, rev.Validate(), "Deletes carry no patch")
	})
}

func assertSchemaViolation(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaViolation), "Expected ErrSchemaViolation, got %v", err)
}

func TestRevisionDocumentForm(t *testing.T) {
	rev := validRevision()
	doc := rev.document()

	assert.NotContains(t, doc, "id", "The store assigns the id on insert")
	assert.NotContains(t, doc, "inProcess", "Unclaimed revisions must not store a claim flag")
	assert.NotContains(t, doc, "snapshot", "Pending revisions have no snapshot")
	assert.Equal(t, false, doc["processed"])
	assert.Equal(t, "update", doc["action"])

	rev.InProcess = true
	rev.Snapshot = map[string]interface{}{"title": "new"}
	doc = rev.document()
	assert.Equal(t, true, doc["inProcess"])
	assert.Contains(t, doc, "snapshot")
}

func TestRevisionDocumentStoresNilPatch(t *testing.T) {
	rev := validRevision()
	rev.Action = ActionDelete
	rev.Patch = nil

	doc := rev.document()
	val, ok := doc["patch"]
	assert.True(t, ok, "A delete's nil patch is stored as an explicit null")
	assert.Nil(t, val)
}

func TestFromDocument(t *testing.T) {
	rev := validRevision()
	doc := rev.document()
	doc["id"] = primitive.NewObjectID().Hex()

	decoded, err := FromDocument(doc)
	require.NoError(t, err, "Failed to decode revision")

	assert.Equal(t, doc["id"], decoded.ID)
	assert.Equal(t, rev.TOA, decoded.TOA)
	assert.Equal(t, rev.MasterID, decoded.MasterID)
	assert.Equal(t, rev.Action, decoded.Action)
	assert.Equal(t, "new", decoded.Patch["title"])
	assert.False(t, decoded.InProcess)
}
