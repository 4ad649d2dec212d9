package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken token 缺失、签名错误或已过期
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnknownRole token 中的角色不是 doctor / family
	ErrUnknownRole = errors.New("unknown role")
)

// Role 实时连接用户角色
type Role string

const (
	RoleDoctor Role = "doctor"
	RoleFamily Role = "family"
)

// Claims 网关使用的 JWT 声明（sub 为用户 ID）
type Claims struct {
	Role Role   `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Identity 已验证的用户身份
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Name   string `json:"name"`
}

// TokenVerifier HMAC JWT 校验器（token 由外部系统签发）
type TokenVerifier struct {
	secret []byte
	issuer string
}

// NewTokenVerifier 创建 token 校验器
func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// Verify 校验 token 并返回用户身份
func (v *TokenVerifier) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: token is missing", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject is missing", ErrInvalidToken)
	}

	switch claims.Role {
	case RoleDoctor, RoleFamily:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}

	return &Identity{
		UserID: claims.Subject,
		Role:   claims.Role,
		Name:   claims.Name,
	}, nil
}

// IssueToken 签发 HS256 token（用于测试和本地调试）
func IssueToken(secret string, identity Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: identity.Role,
		Name: identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
