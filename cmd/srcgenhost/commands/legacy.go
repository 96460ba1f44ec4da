package commands

import (
	"strings"
)

var commandNames = map[string]bool{
	"generate": true, "serve": true, "shutdown": true, "run": true, "history": true, "help": true,
}

// TranslateLegacyArgs rewrites the positional host grammar into kong
// commands:
//
//	host -pipename:<name> [-shutdown]                 => serve --pipename=<name> [--shutdown]
//	host <response> <output> <binlog> [-console]      => generate <response> <output> <binlog> [--console]
//
// Anything else is returned unchanged.
func TranslateLegacyArgs(args []string) []string {
	if len(args) == 0 || commandNames[args[0]] {
		return args
	}

	for i, a := range args {
		name, ok := cutFoldPrefix(a, "-pipename:")
		if !ok {
			continue
		}
		out := []string{"serve", "--pipename=" + name}
		for j, rest := range args {
			switch {
			case j == i:
			case strings.EqualFold(rest, "-shutdown"):
				out = append(out, "--shutdown")
			default:
				out = append(out, rest)
			}
		}
		return out
	}

	var positional, flags []string
	console := false
	for _, a := range args {
		switch {
		case strings.EqualFold(a, "-console"):
			console = true
		case strings.HasPrefix(a, "-"):
			flags = append(flags, a)
		default:
			positional = append(positional, a)
		}
	}
	if len(positional) != 3 || commandNames[positional[0]] {
		return args
	}
	out := append([]string{"generate"}, positional...)
	if console {
		out = append(out, "--console")
	}
	return append(out, flags...)
}

func cutFoldPrefix(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
