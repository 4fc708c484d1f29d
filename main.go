package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"chatsync/api"
	"chatsync/cache"
	"chatsync/config"
	"chatsync/session"
	"chatsync/transport"
)

func main() {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}
	if cfg.UserID == "" {
		log.Fatalf("startup failed: no authenticated user id configured (set CHATSYNC_USER_ID)")
	}

	fmt.Printf("Client ID:       %s\n", cfg.ClientID)
	fmt.Printf("User:            %s (%s)\n", cfg.Username, cfg.UserID)
	fmt.Printf("Server:          %s\n", cfg.ServerURL)
	fmt.Printf("Config File:     %s\n", cfgPath)
	dataDir := filepath.Dir(cfgPath)
	fmt.Printf("Data Directory:  %s\n", dataDir)

	store, dbPath, err := cache.Open(dataDir)
	if err != nil {
		log.Fatalf("startup failed while opening cache: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("cache close error: %v", err)
		}
	}()
	fmt.Printf("Cache File:      %s\n", dbPath)

	stream := transport.NewClient(transport.Options{
		Endpoint:   cfg.WebsocketURL(),
		Credential: cfg.Credential,
	})

	sess, err := session.New(session.Options{
		SelfID:        cfg.UserID,
		Transport:     stream,
		API:           api.NewClient(cfg.ServerURL, cfg.Credential),
		Cache:         store,
		OnStateChange: logStateTransitions(),
	})
	if err != nil {
		log.Fatalf("startup failed while creating session: %v", err)
	}

	if err := sess.Start(); err != nil {
		log.Fatalf("startup failed while starting session: %v", err)
	}
	defer sess.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Status:          running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// logStateTransitions reports connectivity, errors, and message-count
// changes; a rendering frontend would read snapshots here instead.
func logStateTransitions() func(session.State) {
	var lastConnected bool
	var lastError string
	var lastCount int

	return func(state session.State) {
		if state.IsConnected != lastConnected {
			lastConnected = state.IsConnected
			if state.IsConnected {
				log.Printf("session: connected")
			} else {
				log.Printf("session: disconnected")
			}
		}
		if state.Error != "" && state.Error != lastError {
			log.Printf("session: error: %s", state.Error)
		}
		lastError = state.Error
		if len(state.Messages) != lastCount {
			lastCount = len(state.Messages)
			log.Printf("session: %d messages held", lastCount)
		}
	}
}
