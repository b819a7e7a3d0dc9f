package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trustfund/internal/address"
	"trustfund/internal/util"
	"trustfund/pkg/rbac"
)

var (
	ErrChallengeNotFound  = errors.New("challenge not found or expired")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const challengePrefix = "auth:challenge:"

// ChallengeTTL 签名挑战的有效期
const ChallengeTTL = 5 * time.Minute

// ChallengeMessage 客户端需要用私钥签名的消息
func ChallengeMessage(nonce string) []byte {
	return []byte("trustfund login: " + nonce)
}

type Config struct {
	JWTSecret         string
	TokenTTL          time.Duration
	AdminUsername     string
	AdminPasswordHash string
}

// Service 签名者通过 ed25519 挑战登录，管理员通过用户名密码登录
type Service struct {
	rdb    redis.UniversalClient
	cfg    Config
	logger *zap.Logger
}

func NewService(rdb redis.UniversalClient, cfg Config, logger *zap.Logger) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{rdb: rdb, cfg: cfg, logger: logger}
}

// Challenge 为公钥生成一次性 nonce
func (s *Service) Challenge(ctx context.Context, signer address.Address) (string, error) {
	nonce := uuid.NewString()
	if err := s.rdb.Set(ctx, challengePrefix+signer.String(), nonce, ChallengeTTL).Err(); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return nonce, nil
}

// Login 校验对 nonce 的签名并签发 user 角色的 JWT；nonce 无论成败只能使用一次
func (s *Service) Login(ctx context.Context, signer address.Address, signature []byte) (string, error) {
	nonce, err := s.rdb.GetDel(ctx, challengePrefix+signer.String()).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrChallengeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load challenge: %w", err)
	}

	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(signer.PublicKey(), ChallengeMessage(nonce), signature) {
		s.logger.Warn("Signer login rejected", zap.Stringer("signer", signer))
		return "", ErrInvalidSignature
	}

	token, err := util.GenerateJWT(signer.String(), rbac.RoleUser, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	s.logger.Info("Signer logged in", zap.Stringer("signer", signer))
	return token, nil
}

// AdminLogin checks admin credentials and returns JWT.
func (s *Service) AdminLogin(_ context.Context, username, password string) (string, error) {
	if s.cfg.AdminUsername == "" || username != s.cfg.AdminUsername {
		return "", ErrInvalidCredentials
	}
	if !util.CheckPassword(password, s.cfg.AdminPasswordHash) {
		s.logger.Warn("Admin login rejected", zap.String("username", username))
		return "", ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(username, rbac.RoleAdmin, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	return token, nil
}
