package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Fi44er/task_bot/config"
	"github.com/Fi44er/task_bot/db"
	"github.com/Fi44er/task_bot/internal/bot"
	"github.com/Fi44er/task_bot/internal/models"
	"github.com/Fi44er/task_bot/internal/repository"
	"github.com/Fi44er/task_bot/internal/service"
	"github.com/Fi44er/task_bot/internal/verify"
	"github.com/Fi44er/task_bot/utils"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	logger := utils.InitLogger(cfg.LogLevel)
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	database, err := db.ConnectDb(cfg.DB_URL, logger)
	if err != nil {
		logger.Fatal(err)
	}
	if err := db.Migrate(database, cfg.DBAutoMigrate, logger); err != nil {
		logger.Fatal(err)
	}
	repo := repository.NewRepository(database, logger)

	adminIDs, _ := cfg.AdminIDs()
	if len(adminIDs) == 0 {
		logger.Warn("ADMIN_IDS is empty, operator commands are disabled")
	}
	rawMinimums, _ := cfg.WithdrawalMinimums()
	minimums := make(map[models.WithdrawalMethod]decimal.Decimal, len(rawMinimums))
	for method, amount := range rawMinimums {
		minimums[models.WithdrawalMethod(method)] = amount
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal("Failed to create bot API: ", err)
	}
	logger.Infof("Authorized on account %s", api.Self.UserName)

	gateway := bot.NewGateway(api, logger)
	svc := service.NewService(repo, gateway, gateway, service.Options{
		Operators:     service.NewOperatorSet(adminIDs...),
		Minimums:      minimums,
		NotifyTimeout: cfg.NotifyTimeout,
	}, logger)

	baseURL := cfg.VerifyBaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + cfg.VerifyListenAddr
		logger.Warnf("VERIFY_BASE_URL is empty, using %s", baseURL)
	}
	issuer := verify.NewIssuer(cfg.VerifySecret, baseURL, cfg.VerifyTokenTTL)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	verifyServer, err := verify.NewServer(issuer, svc, cfg.TrustedProxies(), logger)
	if err != nil {
		logger.Fatal("Failed to create verification server: ", err)
	}

	telegramBot := bot.NewBot(api, svc, issuer, bot.Options{
		SupportContact: cfg.SupportContact,
		SessionTTL:     cfg.SessionTTL,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return verifyServer.Run(ctx, cfg.VerifyListenAddr)
	})
	g.Go(func() error {
		telegramBot.Start(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal(err)
	}
	logger.Info("Shutdown complete")
}
