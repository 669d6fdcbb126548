package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies the HMAC bearer tokens issued by the
// identity collaborator. The engine only verifies; signing lives here so the
// seed and simulate commands can mint tokens against the same secret.
type TokenService struct {
	secretKey []byte
	tokenTTL  time.Duration
}

func NewTokenService(secretKey string, tokenTTL time.Duration) *TokenService {
	return &TokenService{
		secretKey: []byte(secretKey),
		tokenTTL:  tokenTTL,
	}
}

func (s *TokenService) Sign(principalID uuid.UUID, role Role) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: principalID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

func (s *TokenService) Verify(tokenString string) (Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrExpiredToken
		}
		return Principal{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	role := Role(claims.Role)
	if !role.Valid() || claims.UserID == uuid.Nil {
		return Principal{}, ErrInvalidToken
	}

	return Principal{ID: claims.UserID, Role: role}, nil
}
