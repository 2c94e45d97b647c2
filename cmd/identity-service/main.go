package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/joho/godotenv"

	"github.com/tracepost-larvae/agecred/api"
	"github.com/tracepost-larvae/agecred/bootstrap"
	"github.com/tracepost-larvae/agecred/config"
	"github.com/tracepost-larvae/agecred/middleware"
)

// @title Identity Service
// @version 1.0
// @description eID session lifecycle: start, callback, status.
// @BasePath /
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default environment variables")
	}

	cfg := config.Load()
	svc, err := bootstrap.New(cfg)
	if err != nil {
		log.Fatalf("failed to wire identity service: %v", err)
	}
	defer svc.Close()

	app := fiber.New(fiber.Config{
		AppName:      "agecred-identity-service",
		ErrorHandler: api.ErrorHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(func(event string, fields map[string]any) {
		svc.Log.Info(event, fields)
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Get("/swagger/*", swagger.New(swagger.Config{
		URL:         "/swagger/doc.json",
		DeepLinking: true,
	}))

	api.SetupIdentityRoutes(app, &api.Deps{
		Config:   cfg,
		Identity: svc.Identity,
		DB:       svc.DB,
		Redis:    svc.Redis,
		Ledger:   svc.Ledger,
	})

	startupMessage("Identity Service", cfg.Server.Port)
	log.Fatal(app.Listen(":" + cfg.Server.Port))
}

func startupMessage(name, port string) {
	fmt.Println("┌─────────────────────────────────────────────────────┐")
	fmt.Printf("│ %-53s │\n", name)
	fmt.Println("├─────────────────────────────────────────────────────┤")
	fmt.Printf("│ HTTP server on port %-33s │\n", port)
	fmt.Printf("│ started at %-42s │\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Println("├─────────────────────────────────────────────────────┤")
	fmt.Printf("│ Environment: %-38s │\n", os.Getenv("ENVIRONMENT"))
	fmt.Println("└─────────────────────────────────────────────────────┘")
}
