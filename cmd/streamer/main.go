// Package main is the entry point for the Stellar Connect streamer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/edumarques81/stellar-connect-streamer/internal/audio"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/connect"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/queue"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/registry"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/status"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/streamer"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/auth"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/catalog"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/discovery"
	"github.com/edumarques81/stellar-connect-streamer/internal/infra/receiver"
	"github.com/edumarques81/stellar-connect-streamer/internal/transport/rest"
	"github.com/edumarques81/stellar-connect-streamer/internal/transport/socketio"
	"github.com/edumarques81/stellar-connect-streamer/internal/transport/ws"
	"github.com/edumarques81/stellar-connect-streamer/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "8080", "HTTP server port")
	credentials := flag.String("credentials", "credentials.json", "Path of the stored account credentials")
	clientID := flag.String("client-id", "", "OAuth client id used to refresh tokens")
	clientSecret := flag.String("client-secret", "", "OAuth client secret (optional)")
	country := flag.String("country", catalog.DefaultCountryCode, "Catalog country code")
	service := flag.String("service", discovery.DefaultService, "mDNS service type of receivers")
	defaultDevice := flag.String("device", "", "Device used when a request names none and several are present")
	maxObservers := flag.Int("max-observers", 5, "Maximum remote status observers (0 = unlimited)")
	reconnect := flag.Bool("reconnect-on-session-end", false, "Reconnect when a receiver ends the session")
	beforePlay := flag.String("before-play", "", "Shell command run before a new queue starts")
	volumeUp := flag.String("volume-up", "", "Shell command raising the amplifier volume")
	volumeDown := flag.String("volume-down", "", "Shell command lowering the amplifier volume")
	corsOrigin := flag.String("cors-origin", "*", "Allowed CORS origin")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msgf("%s", version.GetInfo().String())
	log.Info().
		Str("port", *port).
		Str("credentials", *credentials).
		Str("country", *country).
		Str("service", *service).
		Str("default_device", *defaultDevice).
		Int("max_observers", *maxObservers).
		Bool("reconnect_on_session_end", *reconnect).
		Msg("Configuration")

	// Account
	tokens, err := auth.NewProvider(*credentials, auth.WithClient(*clientID, *clientSecret))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load credentials")
	}
	if _, ok := tokens.UserID(); !ok {
		log.Warn().Str("path", *credentials).Msg("No user logged in, receivers will wait")
	}

	// Services
	client := catalog.NewClient(tokens, catalog.WithCountryCode(*country))
	synchronizer := queue.NewSynchronizer(client)
	hub := status.NewHub(status.WithMaxExternal(*maxObservers))
	defer hub.Close()

	amp := audio.NewController(audio.Commands{
		BeforePlay: *beforePlay,
		VolumeUp:   *volumeUp,
		VolumeDown: *volumeDown,
	})
	stream := streamer.NewService(client, synchronizer, streamer.WithBeforePlay(amp.BeforePlay))

	cfg := connect.DefaultConfig()
	cfg.ReconnectOnSessionEnd = *reconnect
	dialer := receiver.NewDialer()

	reg := registry.New(
		func(dev device.Device) *connect.Session {
			return connect.NewSession(dev, dialer, tokens, synchronizer, hub, cfg)
		},
		registry.WithDefaultDevice[*connect.Session](*defaultDevice),
		registry.WithOnRemove[*connect.Session](func(dev device.Device) { hub.Forget(dev.ID) }),
	)
	defer reg.Close()

	// Observers
	socketServer, err := socketio.NewServer(hub)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	// Setup HTTP server
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", socketServer)
	mux.Handle("/ws", ws.NewHandler(hub))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"devices":   len(reg.List()),
			"observers": hub.Count(),
		})
	})
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(version.GetInfo())
	})
	mux.Handle("/", rest.NewServer(devices{reg: reg}, stream, amp))

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      corsMiddleware(*corsOrigin, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Discovery feeds the registry
	g, gctx := errgroup.WithContext(ctx)
	events := make(chan device.Event)
	browser := discovery.NewBrowser(discovery.WithService(*service))
	g.Go(func() error {
		browser.Run(gctx, events)
		return nil
	})
	g.Go(func() error {
		reg.Run(gctx, events)
		return nil
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	cancel()
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Discovery stopped with error")
	}
	log.Info().Msg("Server stopped")
}
