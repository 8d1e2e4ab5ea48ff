package iam

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// claims is the minimal claim set a bearer token carries: the subject
// names the identity to evaluate against, mirroring aistore's authn
// Token (UserID, Expires) without the cluster/bucket ACL fields that
// package ties to aistore's own bucket model.
type claims struct {
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies bearer tokens for identities (Issue
// sets no expiry claim, so its tokens do not expire), an alternative to
// the mandatory X-Lws-Identity header path
// (spec.md §4.4 names the header as the primary extraction route; this
// is additive, in the idiom of aistore's authn package).
type TokenIssuer struct {
	secret []byte
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

func (ti *TokenIssuer) Issue(identityName string) (string, error) {
	c := claims{jwt.RegisteredClaims{Subject: identityName}}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(ti.secret)
}

// IdentityFromToken returns the identity name carried by a bearer token,
// or an error if the token is malformed, unsigned by this issuer, or
// expired.
func (ti *TokenIssuer) IdentityFromToken(raw string) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(*jwt.Token) (interface{}, error) {
		return ti.secret, nil
	})
	if err != nil {
		return "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return "", fmt.Errorf("invalid token")
	}
	return c.Subject, nil
}
