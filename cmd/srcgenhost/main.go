package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/srcgenhost/cmd/srcgenhost/commands"
	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, executes the selected command and returns the exit code.
func run(args []string, stdout, stderr io.Writer) (code int) {
	var cli commands.CLI
	g := &commands.Global{Out: stdout, Err: stderr}

	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(stderr, "Error: unhandled failure: %v\n", r)
			code = ferrors.ExitUnhandled
		}
	}()

	parser, err := kong.New(&cli,
		kong.Name("srcgenhost"),
		kong.Description("Source generator host and persistent build server"),
		kong.Writers(stdout, stderr),
		kong.Vars{"version": fmt.Sprintf("%s (%s, built %s)", version.Version, version.GitCommit, version.BuildTime)},
		kong.Bind(g),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return ferrors.ExitUnhandled
	}

	kctx, err := parser.Parse(commands.TranslateLegacyArgs(args))
	if err != nil {
		if ferrors.IsClassified(err) {
			return ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default()).Report(err)
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return ferrors.ExitInvalidInput
	}

	adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, g.Logger)
	return adapter.Report(kctx.Run(&cli))
}
