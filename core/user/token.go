package user

import (
	"errors"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

var (
	// errors
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenRevoked   = errors.New("token revoked")
)

// Claims represents the authorization claims carried by a session token.
type Claims struct {
	jwt.StandardClaims
	Username  string   `json:"username,omitempty"`
	IsStudent bool     `json:"is_student,omitempty"`
	IsTeacher bool     `json:"is_teacher,omitempty"`
	IsAdmin   bool     `json:"is_admin,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

func getUserClaims(usr User, appName string, expirationDelta time.Duration) *Claims {
	now := nowFunc()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.New().String(),
			Issuer:    appName,
			Subject:   usr.ID,
			Audience:  "Chuo",
			ExpiresAt: now.Add(expirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		Username:  usr.Username,
		IsStudent: usr.IsStudent(),
		IsTeacher: usr.IsTeacher(),
		IsAdmin:   usr.IsAdmin(),
		Roles:     usr.Roles,
	}
}

func generateToken(claims *Claims, secretKey []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

func parseToken(ss string, secretKey []byte) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(ss, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenMalformed
		}
		return secretKey, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok && (vErr.Errors&jwt.ValidationErrorExpired) != 0 {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// revocationList records revoked token ids and per-user revocation
// cutoffs (forced logout invalidates every token issued before the
// cutoff). Entries are dropped lazily once they can no longer match a
// live token.
type revocationList struct {
	mu    sync.Mutex
	jtis  map[string]int64 // jti -> token expiry (unix)
	users map[string]int64 // user ID -> issued-before cutoff (unix)

	maxTokenAge time.Duration
}

func newRevocationList(maxTokenAge time.Duration) *revocationList {
	return &revocationList{
		jtis:        make(map[string]int64),
		users:       make(map[string]int64),
		maxTokenAge: maxTokenAge,
	}
}

func (l *revocationList) revokeToken(claims *Claims) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge()
	l.jtis[claims.Id] = claims.ExpiresAt
}

func (l *revocationList) revokeUser(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purge()
	l.users[id] = nowFunc().Unix()
}

func (l *revocationList) isRevoked(claims *Claims) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.jtis[claims.Id]; ok {
		return true
	}
	if cutoff, ok := l.users[claims.Subject]; ok && claims.IssuedAt <= cutoff {
		return true
	}
	return false
}

// purge drops entries that no live token can match anymore.
// Callers must hold the mutex.
func (l *revocationList) purge() {
	now := nowFunc().Unix()
	for jti, exp := range l.jtis {
		if exp < now {
			delete(l.jtis, jti)
		}
	}
	horizon := nowFunc().Add(-l.maxTokenAge).Unix()
	for id, cutoff := range l.users {
		if cutoff < horizon {
			delete(l.users, id)
		}
	}
}
