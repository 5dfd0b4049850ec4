package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"table-order/api"
	"table-order/bot"
	"table-order/config"
	"table-order/db"
	"table-order/logger"
	"table-order/messaging"
	"table-order/services"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, "table-order")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check for migrate subcommand
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(ctx, cfg, log); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
		return
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("exit", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var events services.Publishers
	if cfg.AMQP.URL != "" {
		pub, err := messaging.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		defer pub.Close()
		events = append(events, pub)
	}

	users := services.NewUserService(store, log)
	generated, err := users.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if generated != "" {
		// Printed once; only the hash is stored.
		fmt.Printf("Admin account %q created with password: %s\n", cfg.Admin.Username, generated)
	}

	menu := services.NewMenuService(store, log)
	if cfg.DB.Driver == config.DriverMemory {
		if err := seedMenu(ctx, menu); err != nil {
			return fmt.Errorf("seed menu: %w", err)
		}
	}

	// The bot subscribes to events, so it must exist before the services
	// that publish them.
	var tg *bot.Bot
	svc := bot.Services{Store: store, Users: users, Menu: menu}
	if cfg.Telegram.Token != "" {
		tg, err = bot.New(cfg.Telegram, svc, log)
		if err != nil {
			return fmt.Errorf("bot: %w", err)
		}
		events = append(events, tg)
	}

	svc.Cart = services.NewCartService(store, log)
	svc.Checkout = services.NewCheckoutService(store, events, log, cfg.Checkout.Retries)
	svc.Orders = services.NewOrderService(store, events, log, cfg.Checkout.Retries)
	if tg != nil {
		tg.SetServices(svc)
		go tg.Start(ctx)
	}

	srv := api.NewServer(cfg.HTTP.Port, api.Deps{
		Store:     store,
		Users:     users,
		Menu:      menu,
		Cart:      svc.Cart,
		Checkout:  svc.Checkout,
		Orders:    svc.Orders,
		JWTSecret: cfg.HTTP.JWTSecret,
		JWTTTL:    cfg.HTTP.JWTTTL,
		Log:       log,

		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (services.Store, error) {
	if cfg.DB.Driver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on exit")
		return services.NewMemStore(), nil
	}
	if err := db.Init(ctx, cfg.DB); err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	// Set AUTO_MIGRATE=1 (or "true") to apply pending migrations on start.
	if v := strings.TrimSpace(os.Getenv("AUTO_MIGRATE")); v == "1" || strings.EqualFold(v, "true") {
		if err := applyMigrations(ctx, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return services.NewPgStore(db.Pool), nil
}

func runMigrate(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	if err := db.Init(ctx, cfg.DB); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	return applyMigrations(ctx, log)
}

func seedMenu(ctx context.Context, menu *services.MenuService) error {
	n, err := menu.Count(ctx)
	if err != nil || n > 0 {
		return err
	}
	for _, in := range []services.MenuItemInput{
		{Name: "Plov", Description: "Rice with lamb and carrots", Price: 45000, Category: "food"},
		{Name: "Lagman", Description: "Hand-pulled noodles", Price: 38000, Category: "food"},
		{Name: "Green tea", Description: "Pot for two", Price: 8000, Category: "drink"},
		{Name: "Lemonade", Description: "House made", Price: 15000, Category: "drink"},
		{Name: "Napoleon", Description: "Layered cake", Price: 20000, Category: "dessert"},
	} {
		if _, err := menu.Create(ctx, in); err != nil {
			return err
		}
	}
	return nil
}
