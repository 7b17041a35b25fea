package reqflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// Fingerprint derives a deterministic key from the method, resolved URL,
// encoded query and serialized body of config. Bodies given as io.Reader
// are not read and do not contribute to the key.
func Fingerprint(config *RequestConfig) string {
	h := sha256.New()
	h.Write([]byte(config.Method))
	h.Write([]byte{0})
	h.Write([]byte(config.URL))
	h.Write([]byte{0})
	h.Write([]byte(config.Query.Encode()))
	h.Write([]byte{0})

	if !isStreamBody(config.Body) {
		body, _, err := EncodeBody(config.Body)
		if err == nil {
			h.Write(body)
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// policyKey returns key, or the fingerprint of config when key is empty.
// A streaming body has no stable fingerprint, so it requires an explicit key.
func policyKey(key string, config *RequestConfig) (string, error) {
	if key != "" {
		return key, nil
	}

	if isStreamBody(config.Body) {
		return "", &ConfigError{Field: "body", Err: ErrStreamBodyNeedsKey}
	}

	return Fingerprint(config), nil
}

// isStreamBody reports whether body is consumed by sending it.
func isStreamBody(body interface{}) bool {
	_, ok := body.(io.Reader)

	return ok
}

// EncodeBody serializes a request body. []byte and string are sent as is;
// anything else is encoded as JSON. The content type is empty when the
// caller should choose it.
func EncodeBody(body interface{}) ([]byte, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return v, "", nil
	case string:
		return []byte(v), "", nil
	case *bytes.Buffer:
		return v.Bytes(), "", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
		}

		return data, "application/json", nil
	}
}
