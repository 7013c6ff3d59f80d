package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// maxClockSkew bounds the age of a signed request's Date header
const maxClockSkew = 12 * time.Hour

// SignRequest signs an outgoing HTTP request with the given private key.
// A Digest header is computed from body when one is given.
// keyId format: "https://example.com/u/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}
	if body != nil && req.Header.Get("Digest") == "" {
		req.Header.Set("Digest", Digest(body))
	}
	return signer.SignRequest(privateKey, keyId, req, nil)
}

// Digest returns the Digest header value for body
func Digest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Returns the actor URI of the signing key if valid.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	keyId, err := verifyRequestKey(req, publicKeyPem)
	if err != nil {
		return "", err
	}
	return ActorOfKeyId(keyId), nil
}

// verifyRequestKey verifies the signature and returns the key id as sent
func verifyRequestKey(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	keyId := verifier.KeyId()
	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if err := checkDate(req); err != nil {
		return "", err
	}
	return keyId, nil
}

// keyOwnedBy reports whether keyId is published on the host of actor.
// "<actor>#main-key", "<actor>/main-key" and "https://host/keys/1" all
// qualify for an actor on that host.
func keyOwnedBy(keyId, actor string) bool {
	host := hostOf(keyId)
	return host != "" && host == hostOf(actor)
}

// ActorOfKeyId strips the fragment from a key id.
// "https://example.com/u/alice#main-key" -> "https://example.com/u/alice"
func ActorOfKeyId(keyId string) string {
	actor, _, _ := strings.Cut(keyId, "#")
	return actor
}

// VerifyDigest checks that the Digest header matches body
func VerifyDigest(req *http.Request, body []byte) error {
	header := req.Header.Get("Digest")
	if header == "" {
		return fmt.Errorf("%w: missing Digest header", ErrSignatureInvalid)
	}
	sum := sha256.Sum256(body)
	want := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(value), []byte(want)) == 1 {
			return nil
		}
		return fmt.Errorf("%w: digest does not match body", ErrSignatureInvalid)
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrSignatureInvalid)
}

func checkDate(req *http.Request) error {
	date := req.Header.Get("Date")
	if date == "" {
		return fmt.Errorf("%w: missing Date header", ErrSignatureInvalid)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return fmt.Errorf("%w: invalid Date header: %v", ErrSignatureInvalid, err)
	}
	skew := time.Since(t)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxClockSkew {
		return fmt.Errorf("%w: Date header is off by %s", ErrSignatureInvalid, skew.Round(time.Second))
	}
	return nil
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return privateKey, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}
