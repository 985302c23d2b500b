package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"github.com/jrsteele09/go-sso-bff/instrumentation"
	"github.com/jrsteele09/go-sso-bff/internal/config"
	"github.com/jrsteele09/go-sso-bff/server"
	"github.com/jrsteele09/go-sso-bff/server/authflowrepo"
	"github.com/jrsteele09/go-sso-bff/token"
)

// How long a login may sit at the provider before its state is forgotten
const authFlowTTL = 5 * time.Minute

func main() {
	Execute()
}

// serve runs the backend until SIGINT/SIGTERM, restarting it after a recovered panic.
func serve(configPath string) error {
	for {
		err := run(configPath)
		if err == nil {
			break
		}
		if !errors.Is(err, errPanicRecovered) {
			return err
		}
		log.Error().Err(err).Msg("Restarting server")
		time.Sleep(1 * time.Second)
	}
	log.Info().Msg("Server stopped")
	return nil
}

var errPanicRecovered = errors.New("panic recovered")

func run(configPath string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errPanicRecovered
		}
	}()

	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(c.GetEnv())
	displayAppname(c.GetAppName())

	metrics, err := instrumentation.New(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	tokens := token.New(c, token.WithLogger(log.Logger), token.WithMetrics(metrics))
	handler, err := server.New(c, tokens, authflowrepo.NewInMemoryRepo(authFlowTTL),
		server.WithLogger(log.Logger),
		server.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd notify failed")
	}

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return shutdown(srv)
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(srv *http.Server) error {
	log.Info().Str("addr", srv.Addr).Msg("Server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
