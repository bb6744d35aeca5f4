package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-attempt-service/internal/domain"
)

const issuer = "quiz-attempt-service"

var errMissingToken = errors.New("missing bearer token")

// Claims is the token payload identifying the caller.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Group string `json:"group,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 tokens issued by the identity provider.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for student. The identity provider is upstream; this
// exists for the CLI token command and tests.
func (a *Authenticator) Issue(student domain.Student, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:  student.Name,
		Email: student.Email,
		Group: student.Group,
		Role:  student.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   student.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates a token and returns the caller it identifies.
func (a *Authenticator) Parse(raw string) (domain.Student, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return domain.Student{}, err
	}
	if claims.Subject == "" {
		return domain.Student{}, errors.New("token without subject")
	}

	role := strings.ToUpper(claims.Role)
	if role == "" {
		role = domain.RoleStudent
	}
	return domain.Student{
		ID:    claims.Subject,
		Name:  claims.Name,
		Email: claims.Email,
		Group: claims.Group,
		Role:  role,
	}, nil
}

type callerKey struct{}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on a WebSocket handshake, so a token query parameter is accepted too.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		student, err := a.Parse(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, student)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTeacher must be mounted after Middleware.
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !callerFrom(r.Context()).IsTeacher() {
			writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerFrom(ctx context.Context) domain.Student {
	student, _ := ctx.Value(callerKey{}).(domain.Student)
	return student
}

func bearerToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", errors.New("expected Authorization: Bearer <token>")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errMissingToken
}
