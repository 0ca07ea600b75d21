package mqtt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultSASTokenTTL is the lifetime of a generated token.
const DefaultSASTokenTTL = time.Hour

// SASToken is a shared access signature for one identity.
type SASToken struct {
	Resource  string
	Signature string
	Expiry    time.Time
}

// NewSASToken signs resource with the base64 device key, valid until
// now+ttl.
//
// Parameters:
//   - resource: "{hub}/devices/{device}" or "{hub}/devices/{device}/modules/{module}"
//   - key: base64-encoded shared access key
//   - now, ttl: expiry is now+ttl, truncated to whole seconds
//
// Returns:
//   - SASToken: the signed token
//   - error: if the key is not valid base64
func NewSASToken(resource, key string, now time.Time, ttl time.Duration) (SASToken, error) {
	if ttl <= 0 {
		ttl = DefaultSASTokenTTL
	}
	rawKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return SASToken{}, fmt.Errorf("%w: decoding shared access key: %w", ErrMissingKey, err)
	}

	expiry := now.Add(ttl).Truncate(time.Second)
	toSign := url.QueryEscape(resource) + "\n" + strconv.FormatInt(expiry.Unix(), 10)

	mac := hmac.New(sha256.New, rawKey)
	mac.Write([]byte(toSign))

	return SASToken{
		Resource:  resource,
		Signature: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Expiry:    expiry,
	}, nil
}

// String renders the token in the SharedAccessSignature format.
func (s SASToken) String() string {
	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d",
		url.QueryEscape(s.Resource),
		url.QueryEscape(s.Signature),
		s.Expiry.Unix(),
	)
}

// Expired reports whether the token is no longer valid at now.
func (s SASToken) Expired(now time.Time) bool {
	return !now.Before(s.Expiry)
}

// resourceURI returns the resource a token for the identity signs.
func resourceURI(hub string, topics Topics) string {
	return strings.ToLower(hub) + "/" + topics.base()
}
