// Package session mints and validates the signed credential that carries a
// verified fediverse identity between requests. Credentials are stateless:
// nothing is stored server-side and validity is purely a function of the
// signature and the embedded expiry.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the natural key of a contest participant. Both fields are
// compared case-sensitively.
type Identity struct {
	Handle   string `json:"handle"`
	Instance string `json:"instance"`
}

func (id Identity) String() string {
	return id.Handle + "@" + id.Instance
}

// ErrUnauthenticated is returned for every invalid credential: malformed,
// unsigned, tampered, or expired. Callers must not distinguish the reason.
var ErrUnauthenticated = errors.New("unauthenticated")

const TTL = 24 * time.Hour

type claims struct {
	jwt.RegisteredClaims
	Handle   string `json:"handle"`
	Instance string `json:"instance"`
}

type Issuer struct {
	secret []byte
}

func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// Issue signs a credential for identity expiring TTL after now.
func (i *Issuer) Issue(identity Identity, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
		},
		Handle:   identity.Handle,
		Instance: identity.Instance,
	})
	return token.SignedString(i.secret)
}

// Verify checks the signature and expiry of credential against now and
// returns the embedded identity.
func (i *Issuer) Verify(credential string, now time.Time) (Identity, error) {
	parsed := &claims{}
	token, err := jwt.ParseWithClaims(credential, parsed, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthenticated
	}
	if parsed.Handle == "" || parsed.Instance == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{Handle: parsed.Handle, Instance: parsed.Instance}, nil
}
