package server

import (
	"net/url"
	"strings"

	"caesium/docstore"
)

// typedValue turns truthy query-string values into booleans so filters match
// stored types; everything else stays a string.
func typedValue(val string) interface{} {
	switch strings.ToLower(val) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return val
}

// filterFromQuery translates URL query parameters into a store filter.
// Reserved parameters are skipped; a parameter given more than once becomes
// an $or across its values.
func filterFromQuery(values url.Values, reserved []string) docstore.Document {
	skip := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		skip[name] = struct{}{}
	}

	filter := docstore.Document{}
	for key, vals := range values {
		if _, ok := skip[key]; ok {
			continue
		}
		if len(vals) == 0 {
			continue
		}

		if len(vals) > 1 {
			or := make([]interface{}, 0, len(vals))
			for _, val := range vals {
				or = append(or, docstore.Document{key: typedValue(val)})
			}
			filter["$or"] = or
			continue
		}

		filter[key] = typedValue(vals[0])
	}

	return filter
}
