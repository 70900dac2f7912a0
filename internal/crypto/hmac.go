package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for Binance SIGNED endpoints.
type HMACAuth struct {
	Key    string
	Secret string
}

// Sign returns the hex HMAC-SHA256 of payload keyed by the API secret.
func (h *HMACAuth) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedQuery adds timestamp and recvWindow to params and returns the encoded
// query with the signature appended as the last parameter.
func (h *HMACAuth) SignedQuery(params url.Values, recvWindow int64) string {
	return h.SignedQueryAt(params, recvWindow, time.Now().UnixMilli())
}

// SignedQueryAt is SignedQuery with a caller-supplied millisecond timestamp.
func (h *HMACAuth) SignedQueryAt(params url.Values, recvWindow, unixMilli int64) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(unixMilli, 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow, 10))
	}
	query := params.Encode()
	return query + "&signature=" + h.Sign(query)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
