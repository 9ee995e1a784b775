package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/lumenshot/lumenshot/app/repository"
	"github.com/lumenshot/lumenshot/internal/pkg/billing"
	"github.com/lumenshot/lumenshot/internal/pkg/cache"
	"github.com/lumenshot/lumenshot/internal/pkg/database"
	"github.com/lumenshot/lumenshot/internal/pkg/env"
	"github.com/lumenshot/lumenshot/internal/pkg/router"
	"github.com/lumenshot/lumenshot/internal/pkg/sweeper"
)

func main() {
	app, sweep := NewApplication()

	sweep.Start()
	defer sweep.Stop()

	// Graceful shutdown: stop the sweeper before the listener dies so an
	// in-flight sweep can finish its transaction.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		sweep.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() (*fiber.App, *sweeper.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())

	// Expiry sweeper shares the reconciliation engine with the webhook path.
	repo := billing.NewRepository(database.GetDB())
	engine := billing.NewEngineFromDB(database.GetDB())
	sweep := sweeper.NewManager(repo, engine,
		sweeper.WithInterval(sweepInterval()),
		sweeper.WithDistributedLease(),
	)

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName: "lumenshot",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber runtime metrics behind basic auth; /metrics itself serves the
	// Prometheus counters and is registered by the router
	app.Get("/metrics/monitor", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("MONITOR_USER", "admin"): env.GetEnv("MONITOR_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	return app, sweep
}

func sweepInterval() time.Duration {
	if v, err := strconv.Atoi(env.GetEnv("SWEEP_INTERVAL_MINUTES", "")); err == nil && v > 0 {
		return time.Duration(v) * time.Minute
	}
	return sweeper.DefaultInterval
}
