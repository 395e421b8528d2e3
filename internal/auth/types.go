package auth

import (
	"context"
	"errors"
	"strings"
)

// Common errors returned by the authentication subsystem.
var (
	ErrDisabled = errors.New("authentication disabled")
	// ErrInvalidSignature means the signature recovered cleanly but the
	// signer does not match the claimed address.
	ErrInvalidSignature = errors.New("invalid wallet signature")
	// ErrSignatureVerification means recovery itself failed (malformed or
	// undecodable signature).
	ErrSignatureVerification = errors.New("signature verification failed")
	ErrInvalidToken          = errors.New("invalid token")
	ErrMissingToken          = errors.New("missing bearer token")
)

// Subject captures the authenticated wallet identity passed to request
// handlers via context.
type Subject struct {
	Address string
}

// normalise canonicalises the wallet address for comparisons.
func (s *Subject) normalise() {
	if s == nil {
		return
	}
	s.Address = strings.ToLower(strings.TrimSpace(s.Address))
}

// LoginRequest describes the payload accepted by the login endpoint. The
// signature must be an EIP-191 personal-sign of the challenge message.
type LoginRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// TokenPair contains the issued access token.
type TokenPair struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Config configures the authentication service.
type Config struct {
	Mode Mode
	JWT  JWTOptions
}

// Mode enumerates the supported authentication providers.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeWallet   Mode = "wallet"
)

// JWTOptions contains parameters for local JWT issuance. AccessTTL of zero
// issues tokens without an expiry claim.
type JWTOptions struct {
	Secret    string
	Issuer    string
	Audience  []string
	AccessTTL int64
}

// subjectKey 是上下文中存储 Subject 的键类型。
type subjectKey struct{}

// WithSubject 将经过身份验证的主体信息存储到上下文中。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 从上下文中提取经过身份验证的主体信息。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	if subject, ok := ctx.Value(subjectKey{}).(*Subject); ok {
		return subject
	}
	return nil
}
