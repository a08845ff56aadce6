package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TemplateString renders a JSON object in the engine's template syntax:
//
//	NAME="vm"
//	DISK=[IMAGE_ID="3",SIZE="1024"]
//
// Arrays repeat the attribute once per element. Keys are sorted so the
// output is stable.
func TemplateString(doc map[string]interface{}) string {
	var b strings.Builder
	for _, key := range sortedKeys(doc) {
		writeAttribute(&b, key, doc[key])
	}
	return b.String()
}

func writeAttribute(b *strings.Builder, key string, value interface{}) {
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			writeAttribute(b, key, item)
		}
	case map[string]interface{}:
		fmt.Fprintf(b, "%s=[", key)
		for i, sub := range sortedKeys(v) {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, "%s=%s", sub, quote(v[sub]))
		}
		b.WriteString("]\n")
	default:
		fmt.Fprintf(b, "%s=%s\n", key, quote(v))
	}
}

func quote(v interface{}) string {
	var s string
	switch t := v.(type) {
	case nil:
		s = ""
	case string:
		s = t
	case map[string]interface{}, []interface{}:
		// Vectors cannot nest; keep the structure readable.
		raw, _ := json.Marshal(t)
		s = string(raw)
	default:
		s = fmt.Sprint(t)
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
