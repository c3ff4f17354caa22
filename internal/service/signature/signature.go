// Request signing: deterministic payload form and HMAC-SHA256 over it
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/shopguard/internal/apperrors"
)

// Field merged into signed payload. Epoch milliseconds
const TimestampField = "timestamp"

// Canonical form of fields: keys sorted bytewise, pairs joined as key=value with '&'
// Nothing is escaped, so the form must be computed over the same values on both sides
func Canonicalize(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(FormatValue(fields[k]))
	}
	return b.String()
}

// Canonical string form of a single value
// Numbers have no exponent and no trailing zeros, booleans are true/false, nil is null
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return formatNumber(v)
	case int:
		return strconv.FormatInt(int64(v), 10)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return formatFloat(float64(v))
	case float64:
		return formatFloat(v)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// Decoded JSON numbers keep their form when they are integers, so 1700000000000 never becomes 1.7e+12
func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return formatFloat(f)
	}
	return n.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// HMAC-SHA256 of payload, lowercase hex
func Sign(payload string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign fields with timestamp merged in. Input map is not modified
func SignWithTimestamp(fields map[string]any, secret []byte, timestamp time.Time) string {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged[TimestampField] = timestamp.UnixMilli()
	return Sign(Canonicalize(merged), secret)
}

// Constant time comparison of candidate and recomputed signature
func Verify(payload string, secret []byte, candidate string) bool {
	got, err := hex.DecodeString(candidate)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), got)
}

// Signer holds process wide secret. Missing secret is a startup error
type Signer struct {
	secret []byte
	now    func() time.Time
}

type Option func(*Signer)

func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}

func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("request signer: %w", apperrors.ErrMissingSecret)
	}

	s := &Signer{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign fields with current time embedded
// Returned timestamp must be sent along with fields
func (s *Signer) Sign(fields map[string]any) (signature string, timestamp int64) {
	now := s.now()
	return SignWithTimestamp(fields, s.secret, now), now.UnixMilli()
}

func (s *Signer) SignAt(fields map[string]any, timestamp time.Time) string {
	return SignWithTimestamp(fields, s.secret, timestamp)
}

// Verify fields as received, timestamp included
func (s *Signer) Verify(fields map[string]any, candidate string) bool {
	return Verify(Canonicalize(fields), s.secret, candidate)
}
