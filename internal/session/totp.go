package session

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"time"
)

const totpDigits = 6
const totpStepSeconds = 30

// GenerateTOTP computes an RFC 6238 time-based one-time password from a
// base32-encoded secret at time t. Secrets of any non-zero length are
// accepted.
func GenerateTOTP(secret string, t time.Time) (string, error) {
	key, err := decodeBase32Secret(secret)
	if err != nil {
		return "", err
	}
	if len(key) == 0 {
		return "", fmt.Errorf("totp secret decodes to zero bytes")
	}

	step := uint64(t.Unix() / totpStepSeconds)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], step)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := (uint32(sum[offset])&0x7F)<<24 |
		(uint32(sum[offset+1])&0xFF)<<16 |
		(uint32(sum[offset+2])&0xFF)<<8 |
		uint32(sum[offset+3])&0xFF

	mod := uint32(1)
	for i := 0; i < totpDigits; i++ {
		mod *= 10
	}
	code %= mod
	return fmt.Sprintf("%06d", code), nil
}

func decodeBase32Secret(secret string) ([]byte, error) {
	raw := strings.ToUpper(strings.TrimSpace(secret))
	if raw == "" {
		return nil, fmt.Errorf("empty totp secret")
	}
	if key, err := base32.StdEncoding.DecodeString(raw); err == nil {
		return key, nil
	}
	noPad := strings.TrimRight(raw, "=")
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(noPad)
	if err != nil {
		return nil, fmt.Errorf("decode base32 totp secret: %w", err)
	}
	return key, nil
}
