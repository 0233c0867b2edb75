package myjwt

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AllChatbots 令牌可访问租户下全部 chatbot
const AllChatbots = "*"

// CustomClaims 服务间调用令牌，ChatbotIDs 限定可操作的 chatbot 范围
type CustomClaims struct {
	TenantID   string   `json:"tenant_id"`
	ChatbotIDs []string `json:"chatbot_ids"`
	jwt.RegisteredClaims
}

func (c *CustomClaims) CanAccess(chatbotID string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.ChatbotIDs, AllChatbots) || slices.Contains(c.ChatbotIDs, chatbotID)
}

type Signer struct {
	key    []byte
	issuer string
}

func NewSigner(key, issuer string) (*Signer, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("jwt key is empty")
	}
	return &Signer{key: []byte(key), issuer: issuer}, nil
}

func (s *Signer) GenerateToken(subject, tenantID string, chatbotIDs []string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := CustomClaims{
		TenantID:   tenantID,
		ChatbotIDs: chatbotIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

func (s *Signer) ParseToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.key, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
