package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/nbd-wtf/go-nostr"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/arkrelay/gateway/adapters/events"
	nostrrelay "github.com/arkrelay/gateway/adapters/relay"
	"github.com/arkrelay/gateway/adapters/store"
	"github.com/arkrelay/gateway/ceremony"
	"github.com/arkrelay/gateway/challenge"
	"github.com/arkrelay/gateway/ledger"
	"github.com/arkrelay/gateway/ports"
	"github.com/arkrelay/gateway/session"
	transport "github.com/arkrelay/gateway/transport/http"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// envelope key for challenge tokens (load from a KMS in a real
	// deployment; generated per process here)
	envelopeKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.WithError(err).Fatal("failed to generate envelope key")
	}

	sessionStore := store.NewMemorySessionStore()
	ledgerStore := store.NewMemoryLedgerStore()

	var challengeStore ports.ChallengeStore = store.NewMemoryChallengeStore()
	var publisher ports.EventPublisher

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			log.WithError(err).Fatal("failed to parse REDIS_URL")
		}
		redisClient := redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		challengeStore = store.NewRedisChallengeStore(redisClient)

		wmLogger := watermill.NewStdLogger(false, false)
		redisPublisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redisClient},
			wmLogger,
		)
		if err != nil {
			log.WithError(err).Fatal("failed to create redis publisher")
		}
		publisher = events.NewWatermillPublisher(redisPublisher)
		log.Info("using redis challenge store and event publisher")
	}

	sessions := session.NewManager(sessionStore, challengeStore, envDuration("SESSION_TTL", 0))
	challenges := challenge.NewManager(challengeStore, envDuration("CHALLENGE_TTL", 0))
	ledgerMgr := ledger.NewManager(ledgerStore)
	tokens := challenge.NewTokenIssuer(envelopeKey)

	var relayConn *nostrrelay.NostrRelay
	if relayURL := os.Getenv("NOSTR_RELAY_URL"); relayURL != "" {
		privKey := os.Getenv("NOSTR_PRIVATE_KEY")
		if privKey == "" {
			privKey = nostr.GeneratePrivateKey()
			log.Warn("NOSTR_PRIVATE_KEY not set, generated an ephemeral relay identity")
		}
		relayConn, err = nostrrelay.Connect(ctx, relayURL, privKey)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to nostr relay")
		}
		defer relayConn.Close()
		log.WithField("relay", relayURL).Info("connected to nostr relay")
	}

	var relayPort ports.Relay
	if relayConn != nil {
		relayPort = relayConn
	}
	orchestrator := ceremony.NewOrchestrator(sessions, challenges, ledgerMgr, tokens, relayPort, publisher)

	if relayConn != nil {
		go func() {
			if err := relayConn.Listen(ctx, func(ctx context.Context, ev ports.SignedEvent) error {
				_, err := orchestrator.HandleSignedEvent(ctx, ev)
				return err
			}); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("relay listener stopped")
			}
		}()
	}

	sweeper := ceremony.NewSweeper(sessions, challenges, envDuration("SWEEP_INTERVAL", 0))
	go sweeper.Run(ctx)

	router := transport.SetupRouter(sessions, orchestrator, ledgerMgr)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":9000"
	}
	log.WithField("addr", addr).Info("gateway listening")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("failed to start server")
	}
}

// envDuration parses a duration env var, falling back to def (a zero
// def lets the component pick its own default)
func envDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.WithField("var", name).WithError(err).Fatal("invalid duration")
	}
	return d
}
