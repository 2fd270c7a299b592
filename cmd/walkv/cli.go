package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/MikhailWahib/walkv"
	"github.com/MikhailWahib/walkv/internal/protocol"
	"github.com/MikhailWahib/walkv/internal/server"
	"github.com/alecthomas/kong"
)

type cmdRepl struct{}

type cmdServe struct {
	Listen   string `default:"${listen}" help:"Address to listen on."`
	MaxConns int    `default:"${maxconns}" help:"Connections served at once; more are refused."`
}

type cli struct {
	WAL       string `name:"wal" default:"${wal}" help:"Write-ahead log file."`
	Snapshot  string `default:"${snapshot}" help:"Snapshot file, loaded at startup when present."`
	Backend   string `enum:"memory,file,bolt" default:"${backend}" help:"Storage backend (memory, file, bolt)."`
	Data      string `default:"${data}" help:"Backing file for the file and bolt backends."`
	MaxKeyLen int    `default:"${maxkeylen}" help:"Longest accepted key in bytes."`

	Repl  cmdRepl  `cmd:"" help:"Read commands from stdin and print replies."`
	Serve cmdServe `cmd:"" help:"Serve the command protocol over TCP."`
}

// CliConfig holds what the command line needs from its environment.
type CliConfig struct {
	Name        string
	Description string
	Exit        func(int)
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

// NewCliConfig returns a CliConfig wired to the process.
func NewCliConfig() *CliConfig {
	return &CliConfig{
		Name:        "walkv",
		Description: "A small durable key-value store with a write-ahead log.",
		Exit:        os.Exit,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
}

// app is bound into every subcommand's Run.
type app struct {
	ctx    context.Context
	cfg    *walkv.Config
	config *CliConfig
}

// Cli parses args and runs the chosen subcommand until it finishes or ctx
// is done. args does not include the program name.
func Cli(ctx context.Context, args []string, config *CliConfig) error {
	def := walkv.DefaultConfig()

	var c cli
	parser, err := kong.New(&c,
		kong.Name(config.Name),
		kong.Description(config.Description),
		kong.Exit(config.Exit),
		kong.Writers(config.Stdout, config.Stderr),
		kong.Vars{
			"wal":       def.WALPath,
			"snapshot":  def.SnapshotPath,
			"backend":   string(def.Backend),
			"data":      def.StoragePath,
			"maxkeylen": strconv.Itoa(def.MaxKeyLen),
			"listen":    def.ListenAddr,
			"maxconns":  strconv.Itoa(def.MaxConns),
		},
	)
	if err != nil {
		return err
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg := def
	cfg.WALPath = c.WAL
	cfg.SnapshotPath = c.Snapshot
	cfg.Backend = walkv.Backend(c.Backend)
	cfg.StoragePath = c.Data
	cfg.MaxKeyLen = c.MaxKeyLen
	cfg.ListenAddr = c.Serve.Listen
	cfg.MaxConns = c.Serve.MaxConns

	return kctx.Run(&app{ctx: ctx, cfg: cfg, config: config})
}

func (cmdRepl) Run(a *app) (err error) {
	db, err := walkv.Open(a.cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()

	out := a.config.Stdout
	fmt.Fprintln(out, server.Greeting)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(a.config.Stdin)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			return nil
		}

		reply, quit := protocol.Handle(db, line)
		if quit {
			return nil
		}
		if reply != "" {
			fmt.Fprintln(out, reply)
		}
	}
}

func (cmdServe) Run(a *app) (err error) {
	db, err := walkv.Open(a.cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, db.Close()) }()

	srv, err := server.New(db, a.cfg.MaxConns)
	if err != nil {
		return err
	}
	err = srv.ListenAndServe(a.ctx, a.cfg.ListenAddr)
	if errors.Is(err, server.ErrServerClosed) {
		return nil
	}
	return err
}
