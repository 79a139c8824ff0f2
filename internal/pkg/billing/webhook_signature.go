package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSignatureTolerance bounds how old a signed timestamp may be before
// the payload is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// VerifyWebhookSignature checks a "t=<unix>,v1=<hex hmac>" signature header
// over "<t>.<payload>" with HMAC-SHA256, the provider's documented scheme.
func VerifyWebhookSignature(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	header := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if header == "" || secret == "" {
		return false
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return false
			}
			ts = parsed
		case "v1":
			decoded, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				continue
			}
			sigs = append(sigs, decoded)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return false
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > DefaultSignatureTolerance || age < -DefaultSignatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			return true
		}
	}
	return false
}

// SignPayload produces a signature header for tests and local tooling.
func SignPayload(payload []byte, webhookSecret string, now time.Time) string {
	ts := now.Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
