package classifier

import (
	"path/filepath"
	"regexp"
	"strings"
)

// subcommandTools names tools whose first non-flag operand is a
// subcommand rather than a plain operand, per spec.md §4.E.2's
// "{ tool, subcommand?, flags[], operands[] }". git is the only one the
// spec's sub-rules (§4.E.4) require; the rest are included because the
// same shape applies to them in practice and the pack's other repos
// invoke them this way.
var subcommandTools = map[string]bool{
	"git":    true,
	"go":     true,
	"npm":    true,
	"docker": true,
	"cargo":  true,
}

// readOnlyTools always classify as ReadsFilesystem regardless of flags.
var readOnlyTools = map[string]bool{
	"cat": true, "less": true, "more": true, "head": true, "tail": true,
	"grep": true, "egrep": true, "fgrep": true, "rg": true, "find": true,
	"wc": true, "file": true, "stat": true, "readlink": true, "pwd": true,
	"diff": true, "ls": true, "tree": true, "du": true, "df": true,
	"which": true, "echo": true, "printf": true, "env": true,
}

// writeFilesystemTools always classify as ModifiesFilesystem regardless of
// flags (none of these delete data outright).
var writeFilesystemTools = map[string]bool{
	"mkdir": true, "touch": true, "cp": true, "mv": true, "ln": true,
	"chmod": true, "chown": true, "tee": true, "truncate": true,
	"sort": true, "mkfifo": true,
}

// deleteTools always classify as DeletesData.
var deleteTools = map[string]bool{
	"rmdir": true, "unlink": true, "shred": true,
}

// normalized is the simple-AST shape of spec.md §4.E.2.
type normalized struct {
	Tool       string
	Subcommand string
	Flags      []string
	Operands   []string
}

// normalizeArgv implements spec.md §4.E.2's "Simple-AST parsing": normalize
// argv into { tool, subcommand?, flags[], operands[] }, expanding
// clustered short flags and honoring "--" as the flag-parsing terminator.
func normalizeArgv(argv []string) normalized {
	n := normalized{Tool: filepath.Base(argv[0])}
	rest := argv[1:]

	wantsSubcommand := subcommandTools[n.Tool]
	flagsEnded := false

	for _, a := range rest {
		if !flagsEnded && a == "--" {
			flagsEnded = true
			continue
		}
		if !flagsEnded && strings.HasPrefix(a, "-") && a != "-" {
			n.Flags = append(n.Flags, expandShortFlag(a)...)
			continue
		}
		if wantsSubcommand && n.Subcommand == "" {
			n.Subcommand = a
			continue
		}
		n.Operands = append(n.Operands, a)
	}
	return n
}

// expandShortFlag splits a clustered short-flag argument like "-la" into
// ["-l", "-a"]; long flags ("--force") and single short flags ("-f") pass
// through unchanged.
func expandShortFlag(a string) []string {
	if strings.HasPrefix(a, "--") || len(a) <= 2 {
		return []string{a}
	}
	runes := []rune(a[1:])
	out := make([]string, 0, len(runes))
	for _, r := range runes {
		out = append(out, "-"+string(r))
	}
	return out
}

func hasFlag(flags []string, names ...string) bool {
	for _, f := range flags {
		for _, name := range names {
			if f == name {
				return true
			}
		}
	}
	return false
}

var sedRangePrintRe = regexp.MustCompile(`^[0-9]+(,[0-9]+)?p$`)

// classifySimpleCommand classifies one non-pipeline, non-shell-wrapped
// argv (or one leaf of an unwrapped pipeline), per spec.md §4.E.2.
func classifySimpleCommand(argv []string) Category {
	if len(argv) == 0 {
		return CategoryUnrecognized
	}

	// "sudo is not stripped": the whole command becomes Unrecognized.
	if filepath.Base(argv[0]) == "sudo" {
		return CategoryUnrecognized
	}

	n := normalizeArgv(argv)

	switch n.Tool {
	case "rm":
		if hasFlag(n.Flags, "-r", "-f") || hasFlag(n.Flags, "--force", "--recursive") {
			return CategoryDeletesData
		}
		return CategoryUnrecognized
	case "sed":
		return classifySed(n)
	case "git":
		return gitCategory(n)
	}

	if readOnlyTools[n.Tool] {
		return CategoryReadsFilesystem
	}
	if writeFilesystemTools[n.Tool] {
		return CategoryModifiesFilesystem
	}
	if deleteTools[n.Tool] {
		return CategoryDeletesData
	}
	return CategoryUnrecognized
}

// classifySed implements spec.md §4.E.2's sed special case: only
// "sed -n 'NUM[,NUM]p' FILE" is recognized, as ReadsFilesystem; any other
// invocation is Unrecognized.
func classifySed(n normalized) Category {
	if !hasFlag(n.Flags, "-n") {
		return CategoryUnrecognized
	}
	if len(n.Operands) != 2 {
		return CategoryUnrecognized
	}
	if !sedRangePrintRe.MatchString(n.Operands[0]) {
		return CategoryUnrecognized
	}
	return CategoryReadsFilesystem
}
