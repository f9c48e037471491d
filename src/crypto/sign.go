package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Params are the name/value pairs of a message payload, rendered to their
// canonical string form. A field that is absent from the payload is absent
// from the map; it never appears as an empty string.
type Params map[string]string

// canonicalString forces the name/value pairs into lexicographic order and
// produces a query-string style string to sign. The envelope timestamp and
// the sender's public key are folded in as ordinary fields.
func canonicalString(params Params, timestamp int64, publicKey string) string {
	all := make(Params, len(params)+2)
	for k, v := range params {
		all[k] = v
	}
	all["timestamp"] = strconv.FormatInt(timestamp, 10)
	all["publicKey"] = publicKey

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + all[k]
	}

	return strings.Join(pairs, "&")
}

// Sign computes the keyed hash of the canonical form of a message, returned
// as lowercase hex.
func Sign(secret string, timestamp int64, publicKey string, params Params) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonicalString(params, timestamp, publicKey)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the signature and compares it in constant time.
func Verify(secret string, timestamp int64, publicKey string, params Params, signature string) bool {
	expected := Sign(secret, timestamp, publicKey, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// FormatValue renders a JSON-decoded payload value into its canonical string
// form. Numbers keep the exact representation they had on the wire.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}
