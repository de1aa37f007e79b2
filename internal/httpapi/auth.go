package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"stockledger/backend/internal/domain"
)

const tokenIssuer = "stockledger"

// AuthManager turns bearer tokens into actors and checks the manager PIN that
// gates refunds. Users are issued tokens by the identity provider in front of
// this service; IssueToken exists for operators and tests.
type AuthManager struct {
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
}

type actorClaims struct {
	jwtlib.RegisteredClaims
	TenantID    int64    `json:"tenant_id"`
	Permissions []string `json:"permissions"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	managerPIN = strings.TrimSpace(managerPIN)
	if managerPIN != "" && !isPasswordHash(managerPIN) {
		if hashed, err := hashPassword(managerPIN); err == nil {
			managerPIN = hashed
		} else {
			managerPIN = ""
		}
	}

	return &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: managerPIN,
	}
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.ActorContext, error) {
	claims := &actorClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.ActorContext{}, errors.New("invalid or expired token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.ActorContext{}, errors.New("invalid token subject")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return domain.ActorContext{}, errors.New("invalid token subject")
	}
	if claims.TenantID <= 0 {
		return domain.ActorContext{}, errors.New("token has no tenant")
	}

	permissions := make([]domain.Permission, 0, len(claims.Permissions))
	for _, raw := range claims.Permissions {
		perm, err := domain.ParsePermission(raw)
		if err != nil {
			return domain.ActorContext{}, fmt.Errorf("invalid token: %w", err)
		}
		permissions = append(permissions, perm)
	}

	return domain.ActorContext{
		TenantID:    claims.TenantID,
		UserID:      userID,
		Permissions: permissions,
	}, nil
}

// IssueToken signs a token carrying the actor's tenant and grants.
func (a *AuthManager) IssueToken(actor domain.ActorContext) (string, time.Time, error) {
	if !actor.Valid() {
		return "", time.Time{}, errors.New("actor requires tenant and user")
	}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(actor, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (a *AuthManager) sign(actor domain.ActorContext, expiresAt time.Time) (string, error) {
	permissions := make([]string, 0, len(actor.Permissions))
	for _, perm := range actor.Permissions {
		permissions = append(permissions, perm.String())
	}
	claims := actorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		TenantID:    actor.TenantID,
		Permissions: permissions,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	input := strings.TrimSpace(pin)
	if input == "" || !isPasswordHash(a.managerPIN) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.managerPIN), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
