// Package scheduler turns advisory generator ordering hints into level
// groups. Generators in one group have no ordering constraint between them
// and run concurrently; groups run in sequence.
package scheduler

import (
	"cmp"
	"log/slog"
	"slices"
	"strings"

	ferrors "git.home.luguber.info/inful/srcgenhost/internal/foundation/errors"
	"git.home.luguber.info/inful/srcgenhost/internal/generator"
	"git.home.luguber.info/inful/srcgenhost/internal/logfields"
)

// Group is one scheduling level.
type Group []generator.Descriptor

// Names returns the generator names in the group.
func (g Group) Names() []string {
	out := make([]string, len(g))
	for i, d := range g {
		out[i] = d.Name
	}
	return out
}

type visitState int

const (
	unvisited visitState = iota
	inProcess
	done
)

type graph struct {
	nodes map[string]generator.Descriptor
	// deps maps a node to the nodes it must run after.
	deps map[string]map[string]bool
}

// Plan groups descs by depth. A node's level is one more than the deepest
// node it must run after. Ordering names that match no generator are
// ignored. A cycle fails the whole plan.
func Plan(descs []generator.Descriptor, logger *slog.Logger) ([]Group, error) {
	if logger == nil {
		logger = slog.Default()
	}
	g := build(descs, logger)
	if len(g.nodes) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(g.nodes))
	for k := range g.nodes {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	state := make(map[string]visitState, len(keys))
	level := make(map[string]int, len(keys))
	var stack []string

	var visit func(k string) error
	visit = func(k string) error {
		switch state[k] {
		case done:
			return nil
		case inProcess:
			return cycleError(g, stack, k)
		}
		state[k] = inProcess
		stack = append(stack, k)
		lvl := 0
		for _, dep := range sortedKeys(g.deps[k]) {
			if err := visit(dep); err != nil {
				return err
			}
			lvl = max(lvl, level[dep]+1)
		}
		stack = stack[:len(stack)-1]
		state[k] = done
		level[k] = lvl
		return nil
	}

	for _, k := range keys {
		if err := visit(k); err != nil {
			return nil, err
		}
	}

	depth := 0
	for _, l := range level {
		depth = max(depth, l+1)
	}
	groups := make([]Group, depth)
	for _, k := range keys {
		groups[level[k]] = append(groups[level[k]], g.nodes[k])
	}
	for _, grp := range groups {
		slices.SortFunc(grp, func(a, b generator.Descriptor) int {
			return cmp.Or(
				cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
				cmp.Compare(a.Name, b.Name),
			)
		})
	}
	return groups, nil
}

func build(descs []generator.Descriptor, logger *slog.Logger) *graph {
	g := &graph{
		nodes: make(map[string]generator.Descriptor, len(descs)),
		deps:  make(map[string]map[string]bool, len(descs)),
	}
	for _, d := range descs {
		k := key(d.Name)
		if k == "" {
			continue
		}
		if _, dup := g.nodes[k]; dup {
			continue
		}
		g.nodes[k] = d
	}
	edge := func(from, to string) {
		if from == to {
			return
		}
		if g.deps[to] == nil {
			g.deps[to] = make(map[string]bool)
		}
		g.deps[to][from] = true
	}
	for k, d := range g.nodes {
		for _, name := range d.After {
			if _, ok := g.nodes[key(name)]; !ok {
				logUnresolved(logger, d.Name, name, "after")
				continue
			}
			edge(key(name), k)
		}
		for _, name := range d.Before {
			if _, ok := g.nodes[key(name)]; !ok {
				logUnresolved(logger, d.Name, name, "before")
				continue
			}
			edge(k, key(name))
		}
	}
	return g
}

func logUnresolved(logger *slog.Logger, gen, name, relation string) {
	logger.Debug("Ignoring unresolved generator ordering",
		logfields.Generator(gen),
		slog.String("relation", relation),
		slog.String("target", name))
}

func cycleError(g *graph, stack []string, repeated string) error {
	start := slices.Index(stack, repeated)
	path := make([]string, 0, len(stack)-start+1)
	for _, k := range stack[start:] {
		path = append(path, g.nodes[k].Name)
	}
	path = append(path, g.nodes[repeated].Name)
	cycle := strings.Join(path, " -> ")
	return ferrors.SchedulingError("cyclic generator ordering: "+cycle).
		WithContext("cycle", cycle).Build()
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
