package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrOperatorExists     = errors.New("operator with this email already exists")
	ErrUnknownRole        = errors.New("unknown role")
)

type AuthService struct {
	repo      *repository.OperatorRepository
	jwtSecret []byte
	jwtExpiry time.Duration
}

func NewAuthService(repo *repository.OperatorRepository, secret string, expiryHours int) *AuthService {
	return &AuthService{
		repo:      repo,
		jwtSecret: []byte(secret),
		jwtExpiry: time.Duration(expiryHours) * time.Hour,
	}
}

// Creates an operator. role is models.RoleAdmin or models.RoleService.
func (s *AuthService) Register(ctx context.Context, email, password, name, role string) error {
	if role != models.RoleAdmin && role != models.RoleService {
		return fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrOperatorExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	op := &models.Operator{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Name:         name,
		Role:         role,
	}

	return s.repo.Create(ctx, op)
}

// Authenticates an operator and returns a JWT token
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	op, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if op == nil {
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.IssueToken(op)
}

// IssueToken signs a token carrying the operator's id, email and role
func (s *AuthService) IssueToken(op *models.Operator) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": op.ID.String(),
		"email":   op.Email,
		"role":    op.Role,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validates a JWT token and return the claims
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

func (s *AuthService) GetOperatorByID(ctx context.Context, id string) (*models.Operator, error) {
	return s.repo.FindByID(ctx, id)
}
