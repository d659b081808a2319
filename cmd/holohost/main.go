package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/admin"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/discovery"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/logging"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/things"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport/wsnet"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/holohost/ex.config.toml", "path to holohost config")
	flag.Parse()

	logging.ConfigureRuntime()
	cfg, err := loadServiceConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "holohost: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "holohost: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg serviceConfig) error {
	gin.SetMode(gin.ReleaseMode)
	id := transport.Identity{
		Token:    ident.NewHostToken(),
		Address:  ident.PeerAddress(cfg.AdvertiseAddr),
		Name:     cfg.Host.Name,
		Listener: cfg.Listener,
	}
	tr := wsnet.New(id, cfg.Session)
	catalog := things.Catalog()
	h, err := distributed.NewHost(cfg.Host, tr, catalog)
	if err != nil {
		return err
	}
	defer h.Close()
	things.RegisterAll(h)

	st, err := newStage(h, catalog)
	if err != nil {
		return err
	}

	srv := admin.New(h, admin.Config{Label: h.Label(), KindName: things.KindName, Token: cfg.AdminToken})
	if cfg.Listener {
		tr.Mount(srv.Engine())
	}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Engine()}
	go func() {
		log.Info().Msgf("holohost.run serving addr=%s listener=%t", cfg.ListenAddr, cfg.Listener)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Msgf("holohost.run http err=%v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.Listener {
		adv, err := discovery.Advertise(cfg.Host.Name, portOf(cfg.AdvertiseAddr), id)
		if err != nil {
			log.Warn().Msgf("holohost.run advertise err=%v", err)
		} else {
			defer adv.Shutdown()
		}
	}

	if !cfg.Listener {
		redialListeners(ctx, h)
	}
	if err := connectPeers(ctx, h, cfg); err != nil {
		return err
	}

	return distributed.NewLoop(h, st.update).Run(ctx)
}

// connectPeers dials configured addresses, or browses for a listener when
// none are configured and discovery is on.
func connectPeers(ctx context.Context, h *distributed.Host, cfg serviceConfig) error {
	addrs := cfg.Peers
	if len(addrs) == 0 && cfg.Discover && !cfg.Listener {
		findCtx, cancel := context.WithTimeout(ctx, cfg.DiscoverTimeout)
		found, err := discovery.FindListener(findCtx, h.Token())
		cancel()
		if err != nil {
			return fmt.Errorf("discover listener: %w", err)
		}
		addrs = []string{found.Address.String()}
	}
	for _, addr := range addrs {
		if err := h.Dial(ctx, addr); err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
	}
	return nil
}

func portOf(addr string) int {
	_, raw, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return port
}
