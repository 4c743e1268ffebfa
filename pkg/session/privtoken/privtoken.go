// Package privtoken mints and verifies signed tokens that represent an
// ActivePrivilege grant. Tokens are keyed by (session_id, type) rather
// than transfer_id, resolving the spec's Open Question 3: a grant must
// be addressable independent of any one transfer, since a technician
// may use an elevated privilege across several transfers within the
// same session.
package privtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT claim set carried by a privilege token.
type Claims struct {
	SessionID string `json:"session_id"`
	Type      string `json:"privilege_type"`
	Approver  string `json:"approver"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies privilege tokens signed with a single HMAC
// key, shared across the broker process (not persisted across
// restarts; tokens outlive a restart only as long as MaxPrivilegeDuration,
// which is always shorter than a typical deployment's restart cadence).
type Issuer struct {
	signingKey []byte
}

// NewIssuer builds an Issuer. key should be distinct from the file
// encryption key; callers typically derive or configure one separately.
func NewIssuer(key []byte) *Issuer {
	return &Issuer{signingKey: key}
}

// Mint issues a token for (sessionID, privType) expiring at expiresAt.
func (i *Issuer) Mint(sessionID, privType, approver string, expiresAt time.Time) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		Type:      privType,
		Approver:  approver,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%s:%s", sessionID, privType),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingKey)
}

// Verify parses and validates tokenString, returning its claims if the
// signature is valid and it has not expired.
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("privtoken: unexpected signing method %v", t.Header["alg"])
		}
		return i.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("privtoken: verify: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("privtoken: token is not valid")
	}
	return claims, nil
}
