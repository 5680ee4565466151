package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/alexa-client/pkg/audio"
	"github.com/lokutor-ai/alexa-client/pkg/avs"
	"github.com/lokutor-ai/alexa-client/pkg/avsconfig"
)

const (
	sampleRate   = 16000
	vadThreshold = 0.02
	silenceLimit = 700 * time.Millisecond
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	configPath := os.Getenv("ALEXA_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}
	tonePath := os.Getenv("ALEXA_ALERT_TONE")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		cancel()
	}()

	cfg, err := avsconfig.Load(configPath)
	if err != nil {
		log.Fatalf("Error: could not load device config from %s: %v", configPath, err)
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		log.Fatal("Error: Client_ID and Client_Secret must be set in the device config")
	}
	if cfg.RefreshToken == "" {
		cfg, err = avsconfig.WaitForRefreshToken(ctx, configPath, avsconfig.DefaultPollInterval, func(path string) {
			fmt.Printf("No refresh_token found in %s.\n", path)
			fmt.Println("Run the authorization bootstrap (the one-shot OAuth web flow) to obtain one.")
			fmt.Println("Waiting for it to rewrite the config file...")
		})
		if err != nil {
			log.Fatalf("Error: never received a refresh_token: %v", err)
		}
	}

	player := audio.NewMPG123Player(tonePath)

	mic, err := audio.NewMicrophone(sampleRate, vadThreshold, silenceLimit)
	if err != nil {
		log.Fatalf("Error: could not open microphone: %v", err)
	}
	defer mic.Close()

	client := avs.NewClient(avs.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
		Boundary:     "njc-alexa-boundary-" + uuid.NewString(),
		Player:       player,
		Mic:          mic,
		Logger:       avs.StdLogger{},
	}, time.Now())

	fmt.Println("Connecting to Alexa Voice Service...")
	if err := client.Start(ctx); err != nil {
		log.Fatalf("Error: failed to start session: %v", err)
	}
	defer client.Close()

	fmt.Println("Alexa client ready. Say the wake word to start a conversation.")
	fmt.Println("Press Ctrl+C to exit")

	go func() {
		if err := client.RunDialog(ctx); err != nil {
			log.Printf("dialog loop exited: %v", err)
		}
	}()

	<-ctx.Done()
}
