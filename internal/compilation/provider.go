package compilation

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Provider opens compilations from files on disk.
type Provider struct {
	parser Parser
}

// NewProvider returns a provider using parser, or DefaultParser when nil.
func NewProvider(parser Parser) *Provider {
	if parser == nil {
		parser = DefaultParser()
	}
	return &Provider{parser: parser}
}

// Open reads and parses files concurrently and returns the initial
// snapshot. Documents keep the order of files.
func (p *Provider) Open(ctx context.Context, files, references []string, options map[string]string) (*Compilation, error) {
	units := make([]*Unit, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(f)
			if err != nil {
				return fmt.Errorf("read source %s: %w", f, err)
			}
			units[i] = p.parser.Parse(Document{Path: f, Text: string(data)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fromUnits(p.parser, units, references, options), nil
}
