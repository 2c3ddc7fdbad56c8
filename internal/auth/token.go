package auth

import (
	"crypto/ecdsa"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/youmark/pkcs8"
)

const (
	// Audience is the fixed aud claim App Store Connect expects.
	Audience = "appstoreconnect-v1"
	// TokenTTL stays under the 20 minute maximum the API accepts.
	TokenTTL = 15 * time.Minute

	refreshBefore = time.Minute
)

// CredentialError reports unusable signing material. It is always fatal to
// the run.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential: %s: %v", e.Reason, e.Err)
	}
	return "credential: " + e.Reason
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Credential is a signed bearer token and its validity window.
type Credential struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token can still be sent at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && now.Before(c.ExpiresAt)
}

// ParsePrivateKey decodes an App Store Connect .p8 key. It accepts PEM text,
// PEM text whose newlines were flattened to literal "\n" sequences, and the
// bare base64 body without armour.
func ParsePrivateKey(text string) (*ecdsa.PrivateKey, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, `\n`, "\n"))
	if text == "" {
		return nil, &CredentialError{Reason: "private key is empty"}
	}

	var der []byte
	if block, _ := pem.Decode([]byte(text)); block != nil {
		if block.Type != "PRIVATE KEY" && block.Type != "EC PRIVATE KEY" {
			return nil, &CredentialError{Reason: fmt.Sprintf("unexpected PEM block %q", block.Type)}
		}
		der = block.Bytes
	} else {
		raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(text), ""))
		if err != nil {
			return nil, &CredentialError{Reason: "private key is neither PEM nor base64", Err: err}
		}
		der = raw
	}

	key, err := pkcs8.ParsePKCS8PrivateKeyECDSA(der)
	if err != nil {
		return nil, &CredentialError{Reason: "parse PKCS#8 EC key", Err: err}
	}
	return key, nil
}

// Issue signs a fresh ES256 token for the given issuer and key id.
func Issue(issuerID, keyID string, key *ecdsa.PrivateKey, now time.Time) (Credential, error) {
	if issuerID == "" || keyID == "" {
		return Credential{}, &CredentialError{Reason: "issuer id and key id are required"}
	}
	if key == nil {
		return Credential{}, &CredentialError{Reason: "private key is nil"}
	}

	issued := now.UTC().Truncate(time.Second)
	expires := issued.Add(TokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": issuerID,
		"iat": issued.Unix(),
		"exp": expires.Unix(),
		"aud": Audience,
	})
	token.Header["kid"] = keyID
	token.Header["typ"] = "JWT"

	signed, err := token.SignedString(key)
	if err != nil {
		return Credential{}, &CredentialError{Reason: "sign token", Err: err}
	}
	return Credential{Token: signed, IssuedAt: issued, ExpiresAt: expires}, nil
}

// Issuer holds the static secrets and hands out one credential that is
// reused until it is about to expire.
type Issuer struct {
	issuerID string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time

	mu     sync.Mutex
	cached Credential
}

// NewIssuer parses the key up front so a malformed key fails before any
// request is attempted.
func NewIssuer(issuerID, keyID, privateKey string) (*Issuer, error) {
	if issuerID == "" || keyID == "" {
		return nil, &CredentialError{Reason: "issuer id and key id are required"}
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &Issuer{issuerID: issuerID, keyID: keyID, key: key, now: time.Now}, nil
}

// Credential returns the cached credential, or signs a new one when the cached
// token has less than a minute left.
func (i *Issuer) Credential() (Credential, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	if i.cached.Valid(now.Add(refreshBefore)) {
		return i.cached, nil
	}
	cred, err := Issue(i.issuerID, i.keyID, i.key, now)
	if err != nil {
		return Credential{}, err
	}
	i.cached = cred
	return cred, nil
}
