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

// signatureTolerance bounds how stale a signed timestamp may be; replays of
// captured payloads outside this window are rejected.
const signatureTolerance = 5 * time.Minute

// VerifyGatewaySignature checks a gateway webhook signature header of the form
// "t=<unix>,v1=<hex hmac-sha256>", where the MAC covers "<unix>.<payload>".
func VerifyGatewaySignature(payload []byte, signatureHeader, webhookSecret string, now time.Time) bool {
	secret := strings.TrimSpace(webhookSecret)
	header := strings.TrimSpace(signatureHeader)
	if secret == "" || header == "" {
		return false
	}

	var ts int64
	var sig []byte
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
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
				return false
			}
			sig = decoded
		}
	}
	if ts == 0 || len(sig) == 0 {
		return false
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), sig)
}

// SignGatewayPayload produces a signature header VerifyGatewaySignature
// accepts. Used by tests and local tooling that replays gateway events.
func SignGatewayPayload(payload []byte, webhookSecret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(webhookSecret)))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
