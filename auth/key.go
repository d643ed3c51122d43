package auth

import (
	"fmt"
	"os"

	"github.com/justapithecus/livefeed/lserr"
)

// Key constants.
const (
	// KeyLength is the length of a valid API key.
	KeyLength = 32
	// BucketIDLength is the length of the key suffix identifying its bucket.
	BucketIDLength = 5
	// EnvKey is the environment variable read by KeyFromEnv.
	EnvKey = "DATABENTO_API_KEY"
)

const redacted = "APIKey(redacted)"

// APIKey holds a validated API key. Its formatting methods never reveal the
// secret, so it is safe to log or marshal by accident.
type APIKey struct {
	key string
}

// ParseKey validates s as an API key.
func ParseKey(s string) (APIKey, error) {
	if len(s) != KeyLength {
		return APIKey{}, lserr.BadArgument("key", fmt.Sprintf("must be %d characters long, got %d", KeyLength, len(s)))
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c < 0x21 || c > 0x7E {
			return APIKey{}, lserr.BadArgument("key", "must consist of printable ASCII characters")
		}
	}
	return APIKey{key: s}, nil
}

// KeyFromEnv reads and validates the key in DATABENTO_API_KEY.
func KeyFromEnv() (APIKey, error) {
	s, ok := os.LookupEnv(EnvKey)
	if !ok || s == "" {
		return APIKey{}, lserr.BadArgument("key", EnvKey+" is not set")
	}
	return ParseKey(s)
}

// IsZero reports whether k holds no key.
func (k APIKey) IsZero() bool {
	return k.key == ""
}

// BucketID returns the key suffix the gateway uses to locate the key.
func (k APIKey) BucketID() string {
	if len(k.key) < BucketIDLength {
		return ""
	}
	return k.key[len(k.key)-BucketIDLength:]
}

// String implements fmt.Stringer without revealing the key.
func (k APIKey) String() string {
	return redacted
}

// GoString implements fmt.GoStringer without revealing the key.
func (k APIKey) GoString() string {
	return redacted
}

// Format implements fmt.Formatter so every verb, %x and %q included, redacts.
func (k APIKey) Format(f fmt.State, _ rune) {
	_, _ = f.Write([]byte(redacted))
}

// MarshalText implements encoding.TextMarshaler without revealing the key.
func (k APIKey) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}
