package revision

import (
	"strings"

	"caesium/docstore"
)

// MongoDB rejects dots in stored key names, so patches are persisted with
// every "." in a key replaced by "|" and restored before being applied as a
// dotted-path $set. Only top-level keys carry paths; nested values are
// payload, not paths.

// makePatchStorable replaces dots with pipes in the patch's key names.
func makePatchStorable(patch map[string]interface{}) map[string]interface{} {
	if patch == nil {
		return nil
	}
	out := make(map[string]interface{}, len(patch))
	for key, value := range patch {
		out[strings.ReplaceAll(key, ".", "|")] = value
	}
	return out
}

// makePatchApplicable restores pipes back to dots so the patch can be applied
// as a $set.
func makePatchApplicable(patch map[string]interface{}) map[string]interface{} {
	if patch == nil {
		return nil
	}
	out := make(map[string]interface{}, len(patch))
	for key, value := range patch {
		out[strings.ReplaceAll(key, "|", ".")] = value
	}
	return out
}

// stripIdentity removes identifier keys from a patch in place and returns it.
// Identifiers are never stored inside patch payloads.
func stripIdentity(patch map[string]interface{}) map[string]interface{} {
	if patch == nil {
		return nil
	}
	delete(patch, "_id")
	delete(patch, "id")
	return patch
}

// deepCopyMeta returns an owned copy of user metadata.
func deepCopyMeta(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}(docstore.DeepCopy(docstore.Document(meta)))
}

// deepCopyPatch returns an owned copy of a patch payload.
func deepCopyPatch(patch map[string]interface{}) map[string]interface{} {
	if patch == nil {
		return nil
	}
	return map[string]interface{}(docstore.DeepCopy(docstore.Document(patch)))
}
