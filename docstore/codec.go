package docstore

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// oidFromHex parses a 24-character hex identifier into its native form.
func oidFromHex(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return oid, nil
}

// toStorable prepares a boundary document for storage. The input is not
// mutated. If the document carries "id" but no "_id", the id is adopted as
// the native identifier; a string "_id" is coerced to an ObjectID.
func toStorable(doc Document) (bson.M, error) {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	if id, ok := out["id"]; ok {
		if _, hasNative := out["_id"]; !hasNative {
			hex, ok := id.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %v", ErrMalformedID, id)
			}
			oid, err := oidFromHex(hex)
			if err != nil {
				return nil, err
			}
			out["_id"] = oid
		}
		delete(out, "id")
	}

	if hex, ok := out["_id"].(string); ok {
		oid, err := oidFromHex(hex)
		if err != nil {
			return nil, err
		}
		out["_id"] = oid
	}

	return out, nil
}

// fromStored converts a stored document to its boundary form: the native
// identifier becomes a hex "id" and BSON values are normalized recursively.
func fromStored(raw bson.M) Document {
	if raw == nil {
		return nil
	}

	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = normalizeValue(v)
	}

	if oid, ok := doc["_id"]; ok {
		doc["id"] = oid
		delete(doc, "_id")
	}

	return doc
}

// normalizeValue flattens BSON-specific types to primitives: identifiers to
// hex strings, datetimes to epoch seconds, timestamps to their seconds field.
// Containers are normalized recursively.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().Unix()
	case primitive.Timestamp:
		return int64(val.T)
	case time.Time:
		return val.Unix()
	case bson.M:
		out := make(bson.M, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeValue(item)
		}
		return out
	case bson.D:
		out := make(bson.M, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// toFilter prepares a boundary filter for querying: an "id" key becomes
// "_id", and hex identifier strings under it (including $in lists) are
// coerced to ObjectIDs. Values that do not parse are passed through so the
// store reports no match rather than an error.
func toFilter(filter Document) bson.M {
	if filter == nil {
		return bson.M{}
	}

	out := make(bson.M, len(filter))
	for k, v := range filter {
		out[k] = v
	}

	id, ok := out["id"]
	if !ok {
		return out
	}
	delete(out, "id")
	out["_id"] = coerceIDValue(id)

	return out
}

func coerceIDValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if oid, err := primitive.ObjectIDFromHex(val); err == nil {
			return oid
		}
		return val
	case []string:
		out := make([]interface{}, len(val))
		for i, s := range val {
			out[i] = coerceIDValue(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = coerceIDValue(item)
		}
		return out
	case bson.M:
		out := make(bson.M, len(val))
		for op, operand := range val {
			out[op] = coerceIDValue(operand)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for op, operand := range val {
			out[op] = coerceIDValue(operand)
		}
		return out
	default:
		return v
	}
}
