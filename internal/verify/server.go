package verify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Claimer binds a network address to a user on behalf of a verification
// link. A link that was already redeemed yields service.ErrTokenUsed.
type Claimer interface {
	RedeemVerificationLink(ctx context.Context, userID int64, tokenID, address string) (bool, error)
}

// Server is the small HTTP endpoint behind verification links. It reads the
// caller's address from the request and hands it to the Claimer.
type Server struct {
	engine  *gin.Engine
	issuer  *Issuer
	claimer Claimer
	logger  *utils.Logger
}

func NewServer(issuer *Issuer, claimer Claimer, trustedProxies []string, logger *utils.Logger) (*Server, error) {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	s := &Server{
		engine:  engine,
		issuer:  issuer,
		claimer: claimer,
		logger:  logger,
	}
	engine.GET("/verify", s.verify)
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Verification server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown verification server: %w", err)
	}
	s.logger.Info("Verification server stopped")
	return nil
}

// GET /verify?token=...
func (s *Server) verify(c *gin.Context) {
	link, err := s.issuer.Parse(c.Query("token"))
	if err != nil {
		s.logger.Debugf("Rejected verification token: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "This verification link is invalid or has expired. Request a new one in the bot."})
		return
	}

	address := c.ClientIP()
	userID := link.UserID
	if _, err := s.claimer.RedeemVerificationLink(c.Request.Context(), userID, link.TokenID, address); err != nil {
		status, message := claimFailure(err)
		if status == http.StatusInternalServerError {
			s.logger.Errorf("Address claim for user %d failed: %v", userID, err)
		} else {
			s.logger.Infof("Address claim for user %d refused: %v", userID, err)
		}
		c.JSON(status, gin.H{"error": message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "verified",
		"message": "Your IP address has been verified. Return to the bot and press \"I've verified\".",
	})
}

func claimFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrTokenUsed):
		return http.StatusUnauthorized, "This verification link was already used. Request a new one in the bot."
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "This IP address is already linked to another account."
	case errors.Is(err, service.ErrAddressUnavailable), errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, "We could not determine your IP address. Please try again."
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound, "Unknown account. Send /start to the bot first."
	default:
		return http.StatusInternalServerError, "Verification failed. Please try again later."
	}
}

func requestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"client":  c.ClientIP(),
			"latency": time.Since(start).String(),
		}).Debug("verify request")
	}
}
