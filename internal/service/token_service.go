package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/counseling-booking-api/internal/models"
	"github.com/noah-isme/counseling-booking-api/pkg/config"
	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

// TokenService validates identity tokens issued by the session provider.
type TokenService struct {
	secret []byte
	issuer string
	expiry time.Duration
}

// NewTokenService constructs a TokenService from JWT settings.
func NewTokenService(cfg config.JWTConfig) *TokenService {
	expiry := cfg.Expiration
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &TokenService{secret: []byte(cfg.Secret), issuer: cfg.Issuer, expiry: expiry}
}

// ValidateToken parses and validates an access token returning the claims.
func (s *TokenService) ValidateToken(tokenString string) (*models.JWTClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.JWTClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	if claims.UserID == "" || !claims.Role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token missing identity")
	}

	return claims, nil
}

// Issue signs a token for the given identity. It backs local tooling and tests;
// production tokens come from the session provider.
func (s *TokenService) Issue(userID string, role models.UserRole, fullName string) (string, time.Time, error) {
	issuedAt := time.Now().UTC()
	expiresAt := issuedAt.Add(s.expiry)
	claims := &models.JWTClaims{
		UserID:   userID,
		Role:     role,
		FullName: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
