// Package envelope is a generic tamper-evident codec for cookie payloads.
//
// Every cookie-based session kind in this module signs its payload through
// this one codec; no cookie kind implements its own signing. The wire format
// is base64url(JSON envelope) + "." + base64url(HMAC-SHA256 signature), with
// the signature computed over the encoded envelope segment.
package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// version is bumped whenever the envelope layout changes; decode rejects any
// other value so stale cookies degrade to "no session" after an upgrade.
const version = 1

const separator = "."

type wrapper struct {
	V    int             `json:"v"`
	Data json.RawMessage `json:"data"`
}

// Encode serializes the payload into a versioned, signed string. The secret
// is threaded explicitly by the caller; the codec never reads ambient state.
func Encode[T any](payload T, secret []byte) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(wrapper{V: version, Data: data})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	return encoded + separator + sign(encoded, secret), nil
}

// Decode verifies and deserializes a signed string. It never returns an
// error: any malformation (missing separator, bad signature, unknown
// version, garbled JSON) yields ok=false so a corrupted cookie degrades to
// an absent session.
func Decode[T any](raw string, secret []byte) (out T, ok bool) {
	idx := strings.LastIndex(raw, separator)
	if idx < 0 {
		return out, false
	}
	encoded, sigPart := raw[:idx], raw[idx+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || len(sig) != sha256.Size {
		return out, false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return out, false
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return out, false
	}
	var w wrapper
	if err := json.Unmarshal(body, &w); err != nil || w.V != version {
		return out, false
	}
	if err := json.Unmarshal(w.Data, &out); err != nil {
		return out, false
	}
	return out, true
}

func sign(encoded string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
