package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"klaus/app/server"
	"klaus/types"
)

func init() {
	mustLoadEnvVariables()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.NewServer(types.ConfigFromEnv())
	if err := s.Setup(ctx); err != nil {
		log.Fatal("error to start server: ", err)
	}

	if err := s.Run(ctx); err != nil {
		log.Println("server error:", err)
	}
	log.Println("Received shutdown signal, shutting down server...")
	s.Stop()
}

func mustLoadEnvVariables() {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatal("Error loading .env file")
	}
}
