package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jimsnab/go-cmdline"

	"github.com/dbehnke/js8chat/internal/chat"
	"github.com/dbehnke/js8chat/internal/config"
	"github.com/dbehnke/js8chat/internal/database"
	"github.com/dbehnke/js8chat/internal/js8"
	"github.com/dbehnke/js8chat/internal/push"
)

const (
	VERSION = "1.0.0"

	// shutdownTimeout bounds the HTTP drain on exit
	shutdownTimeout = 5 * time.Second
)

// Daemon wires the JS8Call client to storage and the browser-facing API
type Daemon struct {
	config *config.Config
	output io.Writer
	file   *os.File

	db     *database.DB
	client *js8.Client
	hub    *push.Hub
	chat   *chat.Service
	server *push.Server
}

// NewDaemon loads the configuration and builds every component. Nothing is
// started until Run.
func NewDaemon(configFile string) (*Daemon, error) {
	cfg := config.NewConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	d := &Daemon{config: cfg, output: os.Stdout}
	if path := cfg.GetLogFilePath(); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		d.file = f
		d.output = io.MultiWriter(os.Stdout, f)
		log.SetOutput(d.output)
	}

	dbConfig := database.Config{
		Path:  cfg.GetDatabasePath(),
		Debug: cfg.GetDatabaseDebug(),
	}
	if !cfg.GetDatabaseEnabled() {
		log.Printf("Database disabled, keeping messages in memory only")
		dbConfig.Path = database.MemoryPath
	}
	db, err := database.NewDB(dbConfig, d.logger("[DB] "))
	if err != nil {
		d.closeLog()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	d.db = db

	d.client = js8.NewClient(js8.Options{
		Host:            cfg.GetJS8Host(),
		Port:            int(cfg.GetJS8Port()),
		RequestTimeout:  cfg.GetJS8RequestTimeout(),
		ReconnectPolicy: js8.FixedDelay(cfg.GetJS8ReconnectDelay()),
		Logger:          d.logger("[JS8] "),
		Debug:           cfg.GetJS8Debug() || cfg.GetLogDebug(),
	})

	d.hub = push.NewHub(push.DefaultSubscriberBuffer, d.logger("[PUSH] "), cfg.GetLogDebug())

	d.chat = chat.NewService(d.client, db, d.hub, d.logger("[CHAT] "), chat.Config{
		PollInterval: cfg.GetStationPollInterval(),
		MessageLimit: int(cfg.GetDatabaseMessageLimit()),
		Debug:        cfg.GetLogDebug(),
	})

	if cfg.GetHTTPEnabled() {
		d.server = push.NewServer(push.Config{
			Address:     cfg.GetHTTPAddress(),
			AllowOrigin: cfg.GetHTTPAllowOrigin(),
			HealthCheck: db.Health,
			Debug:       cfg.GetLogDebug(),
		}, d.hub, d.chat, d.logger("[PUSH] "))
	}

	return d, nil
}

func (d *Daemon) logger(prefix string) *log.Logger {
	return log.New(d.output, prefix, log.LstdFlags)
}

// Run starts every component and blocks until ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	d.chat.Start()
	go d.chat.Run(ctx)

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			d.Stop()
			return err
		}
	} else {
		log.Printf("HTTP API disabled")
	}

	go d.connectLoop(ctx)

	<-ctx.Done()
	d.Stop()
	return nil
}

// connectLoop retries the initial connection. Once connected the client
// reconnects on its own.
func (d *Daemon) connectLoop(ctx context.Context) {
	delay := d.config.GetJS8ReconnectDelay()
	for attempt := 1; ; attempt++ {
		err := d.client.Connect(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil || errors.Is(err, js8.ErrClientClosed) {
			return
		}
		log.Printf("Connection attempt %d to %s failed: %v, retrying in %v",
			attempt, d.client.Address(), err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Stop shuts components down in reverse order of their dependencies
func (d *Daemon) Stop() {
	d.chat.Stop()

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.server.Shutdown(ctx); err != nil {
			log.Printf("HTTP shutdown error: %v", err)
		}
		cancel()
	} else {
		d.hub.Close()
	}

	d.client.Close()

	if err := d.db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}
	d.closeLog()
}

func (d *Daemon) closeLog() {
	if d.file != nil {
		log.SetOutput(os.Stdout)
		d.file.Close()
		d.file = nil
	}
}

func main() {
	cl := cmdline.NewCommandLine()

	cl.RegisterCommand(
		mainHandler,
		"~?Runs the js8chat daemon: stores JS8Call traffic and serves it to browsers.",
		"[--config <string-file>]?INI configuration file. The default is js8chat.ini, then /etc/js8chat.ini.",
		"[--version]?Print the version and exit",
	)

	args := os.Args[1:]
	if err := cl.Process(args); err != nil {
		cl.Help(err, "js8chat", args)
		os.Exit(1)
	}
}

func mainHandler(args cmdline.Values) error {
	if args["--version"].(bool) {
		fmt.Printf("js8chat v%s\n", VERSION)
		return nil
	}

	configFile := getDefaultConfig()
	if args["--config"].(bool) {
		configFile = args["file"].(string)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("js8chat v%s starting with config: %s", VERSION, configFile)

	daemon, err := NewDaemon(configFile)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Printf("js8chat stopped")
	return nil
}

// getDefaultConfig prefers a config in the working directory over the system one
func getDefaultConfig() string {
	if _, err := os.Stat("js8chat.ini"); err == nil {
		return "js8chat.ini"
	}

	systemConfig := "/etc/js8chat.ini"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig
	}

	return "js8chat.ini"
}
