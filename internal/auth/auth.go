// Package auth is the identity layer the chat core assumes externally: user
// registration, login and JWT session tokens over the shared document store.
package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/amaos/amachat/internal/chat"
	"github.com/amaos/amachat/internal/store"
)

type Service struct {
	st        *store.Store
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

func New(st *store.Store, jwtSecret string) *Service {
	return NewWithTokenTTL(st, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(st *store.Store, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		st:        st,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// emailClaimPath reserves an email address. The claim document is created in
// the same transaction as the user document, so an address can never map to
// two users even when registrations race.
func emailClaimPath(email string) string {
	return "emails/" + strings.ToLower(email)
}

type emailClaim struct {
	UserID string `json:"user_id"`
}

func (s *Service) Register(email, displayName, password string) (string, error) {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return "", fmt.Errorf("invalid email address")
	}

	displayName = strings.TrimSpace(displayName)
	if len(displayName) < 2 || len(displayName) > 64 {
		return "", fmt.Errorf("display name must be between 2 and 64 characters")
	}

	if len(password) < 6 {
		return "", fmt.Errorf("password must be at least 6 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	userID := uuid.NewString()
	err = s.st.Apply(
		store.Create(emailClaimPath(email), emailClaim{UserID: userID}),
		store.Create(chat.UserPath(userID), chat.UserRecord{
			Email:        email,
			DisplayName:  displayName,
			PasswordHash: string(hash),
			ChatColor:    chat.DefaultChatColor,
		}),
	)
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return "", fmt.Errorf("email already registered")
		}
		return "", fmt.Errorf("failed to register user: %w", err)
	}

	return userID, nil
}

func (s *Service) Login(email, password string) (string, chat.Profile, error) {
	email = strings.TrimSpace(email)

	claimDoc, ok, err := s.st.Get(emailClaimPath(email))
	if err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to query user: %w", err)
	}
	if !ok {
		return "", chat.Profile{}, fmt.Errorf("invalid email or password")
	}

	var claim emailClaim
	if err := claimDoc.Decode(&claim); err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to decode email claim: %w", err)
	}

	userDoc, ok, err := s.st.Get(chat.UserPath(claim.UserID))
	if err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to query user: %w", err)
	}
	if !ok {
		return "", chat.Profile{}, fmt.Errorf("invalid email or password")
	}

	var rec chat.UserRecord
	if err := userDoc.Decode(&rec); err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to decode user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return "", chat.Profile{}, fmt.Errorf("invalid email or password")
	}

	token, err := s.GenerateToken(claim.UserID, rec.Email)
	if err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to generate token: %w", err)
	}

	profile, err := chat.ProfileFromDoc(userDoc)
	if err != nil {
		return "", chat.Profile{}, fmt.Errorf("failed to decode user: %w", err)
	}

	return token, profile, nil
}

func (s *Service) GenerateToken(userID, email string) (string, error) {
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// UserExists checks whether a user document is present for the given id.
func (s *Service) UserExists(userID string) (bool, error) {
	_, ok, err := s.st.Get(chat.UserPath(userID))
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return ok, nil
}
