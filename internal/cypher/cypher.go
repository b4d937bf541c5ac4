// Package cypher encodes Go values as inlined Cypher literals.
//
// FalkorDB's Redis-protocol GRAPH.QUERY command and the Bolt-protocol Neo4j
// driver both accept a bare Cypher string. Rather than rely on
// driver-specific parameter binding (which differs between the two backends
// this service supports), every batch is built by encoding its row data
// directly into the query text. This package is the only place untrusted
// values meet the query grammar, so every other package that builds Cypher
// must route values through Encode.
package cypher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Encode renders v as a Cypher literal. Supported input shapes are the ones
// produced by decoding JSON: nil, bool, string, float64/int64/json.Number,
// []any, and map[string]any. Any other type is rendered via fmt.Sprintf and
// quoted as a string, which keeps the function total instead of panicking on
// unexpected mapper output.
func Encode(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(val)
	case string:
		return encodeString(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case json.Number:
		return val.String()
	case []any:
		return encodeArray(val)
	case map[string]any:
		return encodeObject(val)
	default:
		return encodeString(fmt.Sprintf("%v", val))
	}
}

func encodeString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

func encodeArray(arr []any) string {
	items := make([]string, len(arr))
	for i, v := range arr {
		items[i] = Encode(v)
	}
	return "[" + strings.Join(items, ", ") + "]"
}

// encodeObject renders map keys in sorted order so that two calls over the
// same logical object produce byte-identical Cypher text; this keeps batch
// queries deterministic, which matters for tests that assert on generated
// Cypher.
func encodeObject(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]string, 0, len(keys))
	for _, k := range keys {
		escapedKey := strings.ReplaceAll(k, "`", "``")
		items = append(items, fmt.Sprintf("`%s`: %s", escapedKey, Encode(m[k])))
	}
	return "{" + strings.Join(items, ", ") + "}"
}
