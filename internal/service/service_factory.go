package service

import (
	"sync"

	"go.uber.org/zap"

	"prediction-auth/internal/config"
	"prediction-auth/internal/repository/postgres"
	redisrepo "prediction-auth/internal/repository/redis"
)

// ServiceFactory builds services lazily and hands out singletons.
type ServiceFactory struct {
	config     *config.Config
	logger     *zap.Logger
	identities postgres.IdentityRepository
	sessions   postgres.SessionRepository
	otpCache   *redisrepo.OTPCache
	rateCache  *redisrepo.RateLimitCache
	sessCache  *redisrepo.SessionCache
	sender     SMSSender
	events     EventPublisher

	mu          sync.Mutex
	rateLimiter *RateLimiter
	otpService  *OTPService
	tokenSvc    *TokenService
	authSvc     *AuthService
}

func NewServiceFactory(
	cfg *config.Config,
	logger *zap.Logger,
	identities postgres.IdentityRepository,
	sessions postgres.SessionRepository,
	otpCache *redisrepo.OTPCache,
	rateCache *redisrepo.RateLimitCache,
	sessCache *redisrepo.SessionCache,
	sender SMSSender,
	events EventPublisher,
) *ServiceFactory {
	return &ServiceFactory{
		config:     cfg,
		logger:     logger,
		identities: identities,
		sessions:   sessions,
		otpCache:   otpCache,
		rateCache:  rateCache,
		sessCache:  sessCache,
		sender:     sender,
		events:     events,
	}
}

func (f *ServiceFactory) RateLimiter() *RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateLimiter == nil {
		f.rateLimiter = NewRateLimiter(f.rateCache, f.logger)
	}
	return f.rateLimiter
}

func (f *ServiceFactory) OTPService() *OTPService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.otpService == nil {
		f.otpService = NewOTPService(f.otpCache, f.config, f.logger)
	}
	return f.otpService
}

func (f *ServiceFactory) TokenService() *TokenService {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenServiceLocked()
}

func (f *ServiceFactory) tokenServiceLocked() *TokenService {
	if f.tokenSvc == nil {
		f.tokenSvc = NewTokenService(f.sessions, f.identities, f.sessCache, f.config, f.logger)
	}
	return f.tokenSvc
}

func (f *ServiceFactory) AuthService() *AuthService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authSvc == nil {
		otp := f.otpService
		if otp == nil {
			otp = NewOTPService(f.otpCache, f.config, f.logger)
			f.otpService = otp
		}
		limiter := f.rateLimiter
		if limiter == nil {
			limiter = NewRateLimiter(f.rateCache, f.logger)
			f.rateLimiter = limiter
		}
		f.authSvc = NewAuthService(otp, f.tokenServiceLocked(), f.identities,
			limiter, f.sender, f.events, f.config, f.logger)
	}
	return f.authSvc
}

// CleanupWorker builds a fresh worker bound to the token service.
func (f *ServiceFactory) CleanupWorker() *CleanupWorker {
	return NewCleanupWorker(f.TokenService(), f.config.Cleanup.Interval, f.logger)
}
