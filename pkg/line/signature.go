package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the channel signature of a webhook request.
const SignatureHeader = "X-Line-Signature"

// Sign returns base64(HMAC-SHA256(channelSecret, body)).
func Sign(body []byte, channelSecret string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature checks signature against the raw, unparsed request body.
func ValidateSignature(body []byte, channelSecret, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || channelSecret == "" {
		return false
	}
	expected := Sign(body, channelSecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
