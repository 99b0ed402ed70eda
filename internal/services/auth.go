package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/viralcut/viralcut-backend/internal/data/repos"
	"github.com/viralcut/viralcut-backend/internal/domain"
	"github.com/viralcut/viralcut-backend/internal/pkg/apperr"
	"github.com/viralcut/viralcut-backend/internal/pkg/dbctx"
	"github.com/viralcut/viralcut-backend/internal/pkg/logger"
	"github.com/viralcut/viralcut-backend/internal/utils"
)

type AuthService interface {
	Register(ctx context.Context, email, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	ParseToken(token string) (uuid.UUID, error)
}

type authService struct {
	log           *logger.Logger
	db            *gorm.DB
	users         repos.UserRepo
	secret        []byte
	tokenTTL      time.Duration
	signupCredits int
}

func NewAuthService(log *logger.Logger, db *gorm.DB, users repos.UserRepo) (AuthService, error) {
	secret := strings.TrimSpace(utils.GetEnv("JWT_SECRET", "", log))
	if secret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET")
	}
	return &authService{
		log:           log.With("service", "AuthService"),
		db:            db,
		users:         users,
		secret:        []byte(secret),
		tokenTTL:      utils.GetEnvAsDuration("JWT_TTL", 24*time.Hour, log),
		signupCredits: utils.GetEnvAsInt("SIGNUP_CREDITS", 10, log),
	}, nil
}

func (s *authService) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	dbc := dbctx.Context{Ctx: ctx}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", apperr.New(apperr.KindValidation, "valid email required")
	}
	if len(password) < 8 {
		return nil, "", apperr.New(apperr.KindValidation, "password must be at least 8 characters")
	}

	existing, err := s.users.GetByEmail(dbc, email)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, "register: lookup email", err)
	}
	if existing != nil {
		return nil, "", apperr.New(apperr.KindValidation, "email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, "register: hash password", err)
	}

	u := &domain.User{
		ID:       uuid.New(),
		Email:    email,
		Password: string(hash),
		Credits:  s.signupCredits,
	}
	if err := s.users.Create(dbc, u); err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, "register: create user", err)
	}

	token, err := s.issueToken(u.ID)
	if err != nil {
		return nil, "", err
	}
	s.log.Info("User registered", "user_id", u.ID.String())
	return u, token, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	dbc := dbctx.Context{Ctx: ctx}
	email = strings.ToLower(strings.TrimSpace(email))

	u, err := s.users.GetByEmail(dbc, email)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInternal, "login: lookup email", err)
	}
	if u == nil {
		return nil, "", apperr.New(apperr.KindAuth, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, "", apperr.New(apperr.KindAuth, "invalid credentials")
	}

	token, err := s.issueToken(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *authService) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "sign token", err)
	}
	return signed, nil
}

func (s *authService) ParseToken(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, apperr.New(apperr.KindAuth, "invalid or expired token")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, apperr.New(apperr.KindAuth, "invalid token claims")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, apperr.New(apperr.KindAuth, "invalid token subject")
	}
	return id, nil
}
