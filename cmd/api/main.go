package main

import (
	"log"
	"os"

	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/pkg/gateway"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

func main() {
	envFiles := []string{".env.local", ".env.development", ".env"}
	config.LoadEnvFiles(envFiles)

	configPath := os.Getenv("ROUTER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		fiberlog.Fatalf("Failed to load config: %v", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		fiberlog.Fatalf("Failed to initialize gateway: %v", err)
	}

	log.Println("Starting AdaptiveRouter server...")
	if err := gw.Run(); err != nil {
		fiberlog.Fatalf("Server failed: %v", err)
	}
}
