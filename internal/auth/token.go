package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "authcore"
	defaultAudience = "authcore-api"
	minHMACSecret   = 32
)

// Token types carried in the typ claim.
const (
	TokenTypeAccess    = "access"
	TokenTypeRefresh   = "refresh"
	TokenTypeChallenge = "challenge"
)

// Algorithm names a supported JWT signing algorithm.
type Algorithm string

const (
	AlgorithmHS256 Algorithm = "HS256"
	AlgorithmRS256 Algorithm = "RS256"
	AlgorithmEdDSA Algorithm = "EdDSA"
)

// TokenConfig configures a TokenIssuer. HMACSecret is used by HS256, the PEM
// keys by RS256 and EdDSA. PublicKeyPEM may be omitted when the private key is set.
type TokenConfig struct {
	Algorithm     Algorithm
	HMACSecret    []byte
	PrivateKeyPEM string
	PublicKeyPEM  string
	KeyID         string
	Issuer        string
	Audience      string
	Leeway        time.Duration
	Now           func() time.Time
}

// AccessClaims are carried by an access token.
type AccessClaims struct {
	SessionID string   `json:"sid"`
	RoleType  RoleType `json:"role"`
	LoginAt   int64    `json:"loginAt"`
	LoginFrom string   `json:"loginFrom,omitempty"`
	LoginWith string   `json:"loginWith,omitempty"`
	Type      string   `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims are carried by a refresh token. Rotation must equal the
// session's rotation counter for the token to be redeemable.
type RefreshClaims struct {
	SessionID string `json:"sid"`
	Rotation  int    `json:"rot"`
	LoginAt   int64  `json:"loginAt"`
	LoginFrom string `json:"loginFrom,omitempty"`
	LoginWith string `json:"loginWith,omitempty"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// ChallengeClaims are carried by a 2FA challenge token. The jti is the challenge id.
type ChallengeClaims struct {
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenSubject is the session context embedded into issued tokens.
type TokenSubject struct {
	UserID    string
	SessionID string
	RoleType  RoleType
	Rotation  int
	LoginAt   time.Time
	LoginFrom string
	LoginWith string
	// NotAfter caps the expiry of issued tokens, normally the session expiry.
	NotAfter time.Time
}

// TokenIssuer signs and verifies access, refresh and challenge tokens with one
// pinned algorithm.
type TokenIssuer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	issuer    string
	audience  string
	leeway    time.Duration
	now       func() time.Time
}

// NewTokenIssuer validates cfg and loads the signing keys.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	t := &TokenIssuer{
		keyID:    strings.TrimSpace(cfg.KeyID),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		leeway:   cfg.Leeway,
		now:      cfg.Now,
	}
	if t.issuer == "" {
		t.issuer = defaultIssuer
	}
	if t.audience == "" {
		t.audience = defaultAudience
	}
	if t.now == nil {
		t.now = time.Now
	}

	switch cfg.Algorithm {
	case AlgorithmHS256, "":
		if len(cfg.HMACSecret) < minHMACSecret {
			return nil, fmt.Errorf("auth: hs256 secret must be at least %d bytes", minHMACSecret)
		}
		t.method = jwt.SigningMethodHS256
		t.signKey = cfg.HMACSecret
		t.verifyKey = cfg.HMACSecret
	case AlgorithmRS256:
		t.method = jwt.SigningMethodRS256
		if err := t.loadRSA(cfg.PrivateKeyPEM, cfg.PublicKeyPEM); err != nil {
			return nil, err
		}
	case AlgorithmEdDSA:
		t.method = jwt.SigningMethodEdDSA
		if err := t.loadEd25519(cfg.PrivateKeyPEM, cfg.PublicKeyPEM); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	return t, nil
}

func (t *TokenIssuer) loadRSA(privatePEM, publicPEM string) error {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" && publicPEM == "" {
		return errors.New("auth: rs256 requires a private or public key")
	}
	if privatePEM != "" {
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		t.signKey = priv
		t.verifyKey = &priv.PublicKey
	}
	if publicPEM != "" {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		t.verifyKey = pub
	}
	return nil
}

func (t *TokenIssuer) loadEd25519(privatePEM, publicPEM string) error {
	privatePEM = strings.TrimSpace(privatePEM)
	publicPEM = strings.TrimSpace(publicPEM)
	if privatePEM == "" && publicPEM == "" {
		return errors.New("auth: eddsa requires a private or public key")
	}
	if privatePEM != "" {
		priv, err := jwt.ParseEdPrivateKeyFromPEM([]byte(privatePEM))
		if err != nil {
			return fmt.Errorf("auth: parse private key: %w", err)
		}
		signer, ok := priv.(crypto.Signer)
		if !ok {
			return errors.New("auth: eddsa private key cannot sign")
		}
		t.signKey = priv
		t.verifyKey = signer.Public()
	}
	if publicPEM != "" {
		pub, err := jwt.ParseEdPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		t.verifyKey = pub
	}
	return nil
}

// Algorithm returns the pinned signing algorithm.
func (t *TokenIssuer) Algorithm() string { return t.method.Alg() }

// CanSign reports whether a signing key is loaded. A verify-only issuer can
// still authenticate tokens minted elsewhere.
func (t *TokenIssuer) CanSign() bool { return t.signKey != nil }

// IssueAccess signs an access token for s valid for ttl.
func (t *TokenIssuer) IssueAccess(s TokenSubject, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	claims := AccessClaims{
		SessionID:        s.SessionID,
		RoleType:         s.RoleType,
		LoginAt:          s.LoginAt.Unix(),
		LoginFrom:        s.LoginFrom,
		LoginWith:        s.LoginWith,
		Type:             TokenTypeAccess,
		RegisteredClaims: t.registered(s.UserID, uuid.NewString(), now, ttl, s.NotAfter, true),
	}
	return t.sign(claims, claims.ExpiresAt.Time)
}

// IssueRefresh signs a refresh token for s valid for ttl.
func (t *TokenIssuer) IssueRefresh(s TokenSubject, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	claims := RefreshClaims{
		SessionID:        s.SessionID,
		Rotation:         s.Rotation,
		LoginAt:          s.LoginAt.Unix(),
		LoginFrom:        s.LoginFrom,
		LoginWith:        s.LoginWith,
		Type:             TokenTypeRefresh,
		RegisteredClaims: t.registered(s.UserID, uuid.NewString(), now, ttl, s.NotAfter, false),
	}
	return t.sign(claims, claims.ExpiresAt.Time)
}

// IssueChallenge signs a challenge token bound to a pending session.
func (t *TokenIssuer) IssueChallenge(userID, sessionID, challengeID string, ttl time.Duration) (string, time.Time, error) {
	now := t.now()
	claims := ChallengeClaims{
		SessionID:        sessionID,
		Type:             TokenTypeChallenge,
		RegisteredClaims: t.registered(userID, challengeID, now, ttl, time.Time{}, false),
	}
	return t.sign(claims, claims.ExpiresAt.Time)
}

func (t *TokenIssuer) registered(subject, id string, now time.Time, ttl time.Duration, notAfter time.Time, withAudience bool) jwt.RegisteredClaims {
	exp := now.Add(ttl)
	if !notAfter.IsZero() && exp.After(notAfter) {
		exp = notAfter
	}
	rc := jwt.RegisteredClaims{
		Issuer:    t.issuer,
		Subject:   subject,
		ID:        id,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	if withAudience {
		rc.Audience = jwt.ClaimStrings{t.audience}
	}
	return rc
}

func (t *TokenIssuer) sign(claims jwt.Claims, exp time.Time) (string, time.Time, error) {
	if t.signKey == nil {
		return "", time.Time{}, errors.New("auth: token issuer has no signing key")
	}
	tok := jwt.NewWithClaims(t.method, claims)
	if t.keyID != "" {
		tok.Header["kid"] = t.keyID
	}
	signed, err := tok.SignedString(t.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccess validates an access token.
func (t *TokenIssuer) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := t.parse(raw, claims, true); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// VerifyRefresh validates a refresh token. Session state is checked by the caller.
func (t *TokenIssuer) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := t.parse(raw, claims, false); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh || claims.Subject == "" || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// VerifyChallenge validates a challenge token.
func (t *TokenIssuer) VerifyChallenge(raw string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := t.parse(raw, claims, false); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeChallenge || claims.Subject == "" || claims.ID == "" || claims.SessionID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (t *TokenIssuer) parse(raw string, claims jwt.Claims, withAudience bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(t.leeway),
		jwt.WithTimeFunc(t.now),
	}
	if withAudience {
		opts = append(opts, jwt.WithAudience(t.audience))
	}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.verifyKey, nil
	}, opts...)
	if err != nil {
		return mapJWTError(err)
	}
	return nil
}

func mapJWTError(err error) error {
	var sentinel *Error
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		sentinel = ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		sentinel = ErrTokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		sentinel = ErrTokenAudienceMismatch
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		sentinel = ErrTokenIssuerMismatch
	case errors.Is(err, jwt.ErrTokenExpired):
		sentinel = ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		sentinel = ErrTokenNotYetValid
	default:
		sentinel = ErrTokenInvalid
	}
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, Message: sentinel.Message, Cause: err}
}

// JWKS renders the verification key as a JSON Web Key Set. HS256 issuers have
// no public key and return an empty set.
func (t *TokenIssuer) JWKS() ([]byte, error) {
	type jwk struct {
		Kty string `json:"kty"`
		Use string `json:"use"`
		Alg string `json:"alg"`
		Kid string `json:"kid,omitempty"`
		N   string `json:"n,omitempty"`
		E   string `json:"e,omitempty"`
		Crv string `json:"crv,omitempty"`
		X   string `json:"x,omitempty"`
	}
	set := struct {
		Keys []jwk `json:"keys"`
	}{Keys: []jwk{}}

	enc := base64.RawURLEncoding
	switch key := t.verifyKey.(type) {
	case *rsa.PublicKey:
		set.Keys = append(set.Keys, jwk{
			Kty: "RSA", Use: "sig", Alg: t.method.Alg(), Kid: t.keyID,
			N: enc.EncodeToString(key.N.Bytes()),
			E: enc.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	case ed25519.PublicKey:
		set.Keys = append(set.Keys, jwk{
			Kty: "OKP", Use: "sig", Alg: t.method.Alg(), Kid: t.keyID,
			Crv: "Ed25519", X: enc.EncodeToString(key),
		})
	}
	return json.Marshal(set)
}
