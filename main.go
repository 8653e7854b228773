package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/labstack/gommon/log"

	"syncwatch.app/api"
	"syncwatch.app/config"
	"syncwatch.app/registry"
	"syncwatch.app/storage"
)

func main() {
	// APP configuration
	c := config.Get()
	log.SetLevel(c.Level())

	// Counters live in Redis when configured, otherwise in memory
	s := storage.NewMemory()
	var rdb *redis.Client
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := rdb.Ping().Err(); err != nil {
			log.Fatal(err)
		}
		s = storage.NewRedis(rdb)
	}

	// Room registry
	rooms := registry.New(registry.WithChatLimit(c.ChatHistoryLimit))

	// API
	a := api.New(c, s, rooms)

	go func() {
		// Starting API
		if err := a.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	// waiting for signals
	quit := <-signals
	log.Infof("signal %s received, stopping server...", quit)
	// Stopping server
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	if err := a.Close(ctx); err != nil {
		log.Error(err)
	}
	cancel()

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error(err)
		}
	}
}
