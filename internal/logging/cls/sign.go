package cls

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

const signatureTTL = 5 * time.Minute

// signature computes the q-sign Authorization value used by the CLS API.
// Only the query parameters and headers passed in are covered.
func signature(secretID, secretKey, method, path string, params url.Values, headers map[string]string, now time.Time) string {
	start := now.Unix()
	keyTime := fmt.Sprintf("%d;%d", start, start+int64(signatureTTL/time.Second))

	paramList, formattedParams := formatPairs(valuesToMap(params))
	headerList, formattedHeaders := formatPairs(headers)

	formatString := strings.ToLower(method) + "\n" + path + "\n" + formattedParams + "\n" + formattedHeaders + "\n"
	stringToSign := "sha1\n" + keyTime + "\n" + sha1Hex(formatString) + "\n"
	signKey := hmacSHA1Hex(secretKey, keyTime)
	sig := hmacSHA1Hex(signKey, stringToSign)

	return strings.Join([]string{
		"q-sign-algorithm=sha1",
		"q-ak=" + secretID,
		"q-sign-time=" + keyTime,
		"q-key-time=" + keyTime,
		"q-header-list=" + headerList,
		"q-url-param-list=" + paramList,
		"q-signature=" + sig,
	}, "&")
}

func valuesToMap(v url.Values) map[string]string {
	m := make(map[string]string, len(v))
	for k := range v {
		m[k] = v.Get(k)
	}
	return m
}

// formatPairs lower-cases and sorts keys, returning "k1;k2" and "k1=v1&k2=v2".
func formatPairs(pairs map[string]string) (string, string) {
	lowered := make(map[string]string, len(pairs))
	keys := make([]string, 0, len(pairs))
	for k, v := range pairs {
		lk := strings.ToLower(k)
		lowered[lk] = v
		keys = append(keys, lk)
	}
	sort.Strings(keys)

	formatted := make([]string, 0, len(keys))
	for _, k := range keys {
		formatted = append(formatted, k+"="+url.QueryEscape(lowered[k]))
	}
	return strings.Join(keys, ";"), strings.Join(formatted, "&")
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hmacSHA1Hex(key, msg string) string {
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
