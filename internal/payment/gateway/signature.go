package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const SignatureField = "signature"

// Sign computes base64(sha256(v1:v2:...:vN:key)) over payload values ordered
// by key. The signature field itself is ignored.
func Sign(payload map[string]interface{}, key string) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == SignatureField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		parts = append(parts, stringify(payload[k]))
	}
	parts = append(parts, key)

	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Verify reports whether signature matches payload under key.
func Verify(payload map[string]interface{}, signature, key string) bool {
	if signature == "" || key == "" {
		return false
	}
	expected := Sign(payload, key)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// stringify keeps numbers in their wire form. Payloads must be decoded with
// json.Decoder.UseNumber for that to hold.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(val)
	}
}
