// Package commands implements the srcgenhost command line.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/srcgenhost/internal/config"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/generators"
)

// Global is the state shared by every command once flags are applied.
type Global struct {
	Logger *slog.Logger
	Config *config.Config
	Out    io.Writer
	Err    io.Writer
}

// CLI definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"srcgenhost.yaml" type:"path"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Generate GenerateCmd `cmd:"" help:"Run one generation in this process"`
	Serve    ServeCmd    `cmd:"" help:"Run the persistent build server"`
	Shutdown ShutdownCmd `cmd:"" help:"Stop a running build server"`
	Run      RunCmd      `cmd:"" help:"Generate through the build server, falling back to this process"`
	History  HistoryCmd  `cmd:"" help:"List recent runs from the run journal"`
}

// AfterApply loads the configuration and sets up logging once.
func (c *CLI) AfterApply(g *Global) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "load configuration").
			WithContext("path", c.Config).UserAction().Build()
	}
	g.Config = cfg
	if g.Out == nil {
		g.Out = os.Stdout
	}
	if g.Err == nil {
		g.Err = os.Stderr
	}
	g.Logger = slog.New(cfg.Logging.NewHandler(g.Err, c.Verbose))
	slog.SetDefault(g.Logger)
	return nil
}

// Registry returns the generators built into the host.
func Registry() (*generator.Registry, error) {
	reg := generator.NewRegistry()
	if err := generators.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
