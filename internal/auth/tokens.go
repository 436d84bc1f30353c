// Package auth issues and verifies the HS256 JWTs of the service: owner
// session tokens and the A2A OAuth authorization codes, access tokens and
// refresh tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kalambet/stackpilot/internal/storage"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongAgent   = errors.New("token was issued for a different agent")
)

// Token kinds.
const (
	KindSession = "session"
	KindCode    = "code"
	KindAccess  = "access"
	KindRefresh = "refresh"
)

const (
	SessionTTL = 30 * 24 * time.Hour
	CodeTTL    = 10 * time.Minute
	AccessTTL  = time.Hour
	RefreshTTL = 30 * 24 * time.Hour
)

// DefaultScope is granted when a client does not ask for one.
const DefaultScope = "agent.chat agent.read"

// Claims are the claims carried by every token. Which optional fields are set
// depends on Kind.
type Claims struct {
	Kind        string `json:"kind"`
	AgentID     string `json:"agent_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	Scope       string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TokenPair is the OAuth token response body.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Issuer signs and verifies tokens with one shared secret.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer returns an Issuer. The secret must not be empty.
func NewIssuer(secret, issuer string) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// IssueSession mints an owner session token for userID.
func (i *Issuer) IssueSession(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return i.sign(Claims{Kind: KindSession}, userID, SessionTTL)
}

// ParseSession verifies a session token and returns its user id.
func (i *Issuer) ParseSession(token string) (string, error) {
	c, err := i.parse(token, KindSession)
	if err != nil {
		return "", err
	}
	if c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// IssueCode mints a short-lived A2A authorization code.
func (i *Issuer) IssueCode(agentID, clientID, redirectURI, scope string) (string, error) {
	return i.sign(Claims{
		Kind:        KindCode,
		AgentID:     agentID,
		ClientID:    clientID,
		RedirectURI: redirectURI,
		Scope:       scopeOrDefault(scope),
	}, agentID, CodeTTL)
}

// VerifyCode checks an authorization code against the agent and client that
// redeem it. An empty redirectURI skips the redirect check only when the code
// was issued without one.
func (i *Issuer) VerifyCode(token, agentID, clientID, redirectURI string) (*Claims, error) {
	c, err := i.parseForAgent(token, KindCode, agentID)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(c.ClientID), []byte(clientID)) != 1 {
		return nil, fmt.Errorf("%w: client mismatch", ErrInvalidToken)
	}
	if c.RedirectURI != redirectURI {
		return nil, fmt.Errorf("%w: redirect uri mismatch", ErrInvalidToken)
	}
	return c, nil
}

// IssueTokenPair mints an access and refresh token for an agent.
func (i *Issuer) IssueTokenPair(agentID, scope string) (TokenPair, error) {
	scope = scopeOrDefault(scope)
	access, err := i.sign(Claims{Kind: KindAccess, AgentID: agentID, Scope: scope}, agentID, AccessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(Claims{Kind: KindRefresh, AgentID: agentID, Scope: scope}, agentID, RefreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scope,
	}, nil
}

// ParseAccess verifies an access token issued for agentID.
func (i *Issuer) ParseAccess(token, agentID string) (*Claims, error) {
	return i.parseForAgent(token, KindAccess, agentID)
}

// ParseRefresh verifies a refresh token issued for agentID.
func (i *Issuer) ParseRefresh(token, agentID string) (*Claims, error) {
	return i.parseForAgent(token, KindRefresh, agentID)
}

// VerifyAgentBearer accepts either the agent's configured API key or a valid
// access token issued for the agent.
func (i *Issuer) VerifyAgentBearer(token string, agent storage.Agent) error {
	if token == "" {
		return ErrInvalidToken
	}
	if key := agent.Configuration.APIKey; key != "" && subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
		return nil
	}
	_, err := i.ParseAccess(token, agent.ID)
	return err
}

func (i *Issuer) sign(c Claims, subject string, ttl time.Duration) (string, error) {
	now := i.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    i.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing %s token: %w", c.Kind, err)
	}
	return signed, nil
}

func (i *Issuer) parse(token, kind string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return i.secret, nil }, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, kind, c.Kind)
	}
	return &c, nil
}

func (i *Issuer) parseForAgent(token, kind, agentID string) (*Claims, error) {
	c, err := i.parse(token, kind)
	if err != nil {
		return nil, err
	}
	if c.AgentID != agentID {
		return nil, ErrWrongAgent
	}
	return c, nil
}

func scopeOrDefault(scope string) string {
	if scope == "" {
		return DefaultScope
	}
	return scope
}
