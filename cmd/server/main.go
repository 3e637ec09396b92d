package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/kapilverma1997/ichat/internal/broker"
	"github.com/kapilverma1997/ichat/internal/config"
	"github.com/kapilverma1997/ichat/internal/consumers"
	"github.com/kapilverma1997/ichat/internal/database"
	"github.com/kapilverma1997/ichat/internal/gateway"
	"github.com/kapilverma1997/ichat/internal/handlers"
	"github.com/kapilverma1997/ichat/internal/presence"
	"github.com/kapilverma1997/ichat/internal/producer"
	"github.com/kapilverma1997/ichat/internal/routes"
	"github.com/kapilverma1997/ichat/internal/store"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	// Connect to MongoDB
	log.Printf("Connecting to MongoDB...")
	if err := database.Connect(cfg.MongoURI); err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.Disconnect()

	// Ensure indexes (unique message_id backs idempotent storage)
	if err := store.EnsureIndexes(context.Background(), database.DB); err != nil {
		log.Printf("⚠️  WARNING: failed to ensure MongoDB indexes: %v", err)
	} else {
		log.Println("✅ MongoDB indexes ensured")
	}

	// Connect to Redis (recent-message cache is best-effort; run without it)
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Printf("⚠️  WARNING: Redis unavailable, recent-message cache disabled: %v", err)
	} else {
		defer database.DisconnectRedis()
	}

	// Connect to the broker with bounded backoff, then declare topology
	log.Printf("Connecting to broker...")
	manager := broker.NewManager(cfg.AMQPURI)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := manager.WaitReady(startupCtx, cfg.BrokerConnectAttempts); err != nil {
		startupCancel()
		log.Fatal("Failed to connect to broker:", err)
	}
	if err := manager.EnsureTopology(startupCtx); err != nil {
		startupCancel()
		log.Fatal("Failed to declare broker topology:", err)
	}
	startupCancel()
	log.Println("✅ Broker topology ensured")

	// Repositories and services
	messages := store.NewMessages(database.DB)
	conversations := store.NewConversations(database.DB)
	sessions := store.NewSessions(database.DB)
	cache := store.NewRecentCache(database.RedisClient)

	registry := presence.NewRegistry()
	defer registry.Shutdown()

	gw := gateway.New()
	gateway.SetCurrent(gw)

	pub := producer.New(manager)

	// Consumers: independent of each other, each serial internally
	// (prefetch=1 on the shared channel).
	consumeCtx, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()

	subscriptions := []broker.Subscription{
		{
			Queue:       broker.QueueDelivery,
			Name:        "delivery-consumer",
			MaxAttempts: cfg.ConsumerMaxAttempts,
			Handle:      consumers.NewDelivery(conversations, registry, gateway.Current).Handle,
		},
		{
			Queue:       broker.QueueStorage,
			Name:        "storage-consumer",
			MaxAttempts: cfg.ConsumerMaxAttempts,
			Handle:      consumers.NewStorage(messages, conversations, cache).Handle,
		},
		{
			Queue:       broker.QueueReadReceipts,
			Name:        "read-receipt-consumer",
			MaxAttempts: cfg.ConsumerMaxAttempts,
			Handle:      consumers.NewReadReceipts(messages, gateway.Current).Handle,
		},
		{
			Queue: broker.QueuePresence,
			Name:  "presence-consumer",
			// Presence failures never re-enter the queue, panics included.
			OnPanic: broker.PermanentFailure,
			Handle:  consumers.NewPresence(registry, sessions, gateway.Current).Handle,
		},
	}
	for _, sub := range subscriptions {
		if err := manager.Subscribe(consumeCtx, sub); err != nil {
			log.Fatalf("Failed to start consumer %s: %v", sub.Name, err)
		}
		log.Printf("✅ Consumer started: %s (%s)", sub.Name, sub.Queue)
	}

	// Router
	if len(cfg.AllowedOrigins) == 0 {
		log.Println("⚠️  WARNING: no ALLOWED_ORIGINS configured; cross-origin requests will be rejected")
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	ws := &handlers.WS{
		Gateway:       gw,
		Producer:      pub,
		Conversations: conversations,
		Cache:         cache,
	}
	routes.SetupRoutes(r, ws)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Printf("🚀 iChat delivery core running on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Graceful shutdown: stop accepting traffic, stop consumers, close the
	// broker channel and connection. Unacked messages are redelivered to the
	// next instance.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	stopConsumers()
	manager.Shutdown()
	log.Println("✅ Shutdown complete")
}
