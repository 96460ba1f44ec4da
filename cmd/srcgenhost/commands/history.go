package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/journal"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of runs to list" default:"20"`
}

func (h *HistoryCmd) Run(g *Global) error {
	path := g.Config.Journal.Path
	if path == "" {
		return ferrors.ConfigError("the run journal is disabled").
			WithContext("setting", "journal.path").UserAction().Build()
	}
	store, err := journal.Open(path)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "open run journal").
			WithContext("path", path).Build()
	}
	defer func() { _ = store.Close() }()

	runs, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "read run journal").Build()
	}
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(g.Out, "No runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(g.Out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tSTATUS\tPROJECT\tCONFIG\tDURATION\tFILES\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(r.Started), r.Status, r.Project, r.Configuration,
			r.Duration.Round(time.Millisecond), humanize.Comma(int64(len(r.Paths))), r.Error)
	}
	return tw.Flush()
}
