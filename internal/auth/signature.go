package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/podiumapp/podium-server/internal/domain"
)

const signingKeySize = 32

// GenerateSigningKey creates a per-account secret for MACing action requests.
// Returned hex-encoded; shown to the client exactly once at registration.
func GenerateSigningKey() (string, error) {
	key := make([]byte, signingKeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// canonicalMessage produces the byte string both sides MAC. Field order and
// encoding are fixed: any representational drift (float formatting, timestamp
// precision) breaks verification, so everything is rendered explicitly.
func canonicalMessage(req *domain.ActionRequest) []byte {
	var b strings.Builder
	b.WriteString(req.UserID)
	b.WriteByte('\n')
	b.WriteString(string(req.ActionType))
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(req.ClientTimestamp.UnixMilli(), 10))
	b.WriteByte('\n')
	b.WriteString(req.Nonce)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatFloat(req.Params.Difficulty, 'g', -1, 64))
	b.WriteByte('\n')
	b.WriteString(strconv.Itoa(req.Params.Streak))
	return []byte(b.String())
}

// SignAction computes the hex MAC for an action request using the account's
// signing key. BLAKE2b in keyed mode serves as the MAC directly; no HMAC
// construction is needed.
func SignAction(signingKeyHex string, req *domain.ActionRequest) (string, error) {
	key, err := hex.DecodeString(signingKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode signing key: %w", err)
	}

	mac, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("init mac: %w", err)
	}
	mac.Write(canonicalMessage(req))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyActionSignature checks req.Signature against the account's signing
// key in constant time.
func VerifyActionSignature(signingKeyHex string, req *domain.ActionRequest) (bool, error) {
	expected, err := SignAction(signingKeyHex, req)
	if err != nil {
		return false, err
	}

	got, err := hex.DecodeString(req.Signature)
	if err != nil {
		return false, nil // malformed signature is just invalid
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
