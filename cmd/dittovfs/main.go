package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/config"
	"github.com/marmos91/dittovfs/pkg/registry"
)

const usage = `DittoVFS - virtual filesystem over local, remote and archive storage

Usage:
  dittovfs [--config path] <command> [arguments]

Commands:
  init [--force]               write a default configuration file
  ls [--type any|file|dir] URI list a directory
  cat URI                      print a file
  put URI [LOCAL]              write a file from LOCAL or standard input
  mkdir [-p] URI               create a directory
  rm [-r] URI                  delete a file or directory
  stat URI                     show attributes
  ping URI                     measure the round trip to a remote server

Addresses:
  file:///home/user/notes.txt
  temp:///scratch/out.bin
  s3://key:secret@bucket/reports/q1.csv?region=eu-west-1
  zip://[file:///backups/site.zip]/index.html
`

// command runs against a manager built from the loaded configuration.
type command func(ctx context.Context, reg *registry.Registry, args []string) error

var commands = map[string]command{
	"ls":    runLs,
	"cat":   runCat,
	"put":   runPut,
	"mkdir": runMkdir,
	"rm":    runRm,
	"stat":  runStat,
	"ping":  runPing,
}

func main() {
	global := flag.NewFlagSet("dittovfs", flag.ExitOnError)
	configPath := global.String("config", "", "Path to config file (default $XDG_CONFIG_HOME/dittovfs/config.yaml)")
	logLevel := global.String("log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	if args[0] == "init" {
		if err := runInit(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		global.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *logLevel, cmd, args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string, cmd command, args []string) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Ctrl+C cancels the running operation; filesystems are still closed so
	// archives commit what was written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := config.InitializeMetrics(cfg)
	if m.Server != nil {
		go func() {
			if err := m.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
		defer func() { _ = m.Server.Stop(context.Background()) }()
	}

	reg, cleanup, err := config.BuildManager(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cleanup(context.WithoutCancel(ctx)); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	return cmd(ctx, reg, args)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	path := fs.String("path", "", "Write to this path instead of the default location")
	_ = fs.Parse(args)

	target := *path
	if target == "" {
		var err error
		if target, err = config.InitConfig(*force); err != nil {
			return err
		}
	} else if err := config.InitConfigToPath(target, *force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", target)
	return nil
}

// copyOut streams r to w and closes r.
func copyOut(w io.Writer, r io.ReadCloser) error {
	_, err := io.Copy(w, r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	return err
}
