// Package classifier implements the command classifier of spec.md §4.E.2:
// given an argv-style vector (as the model proposed invoking a shell tool),
// classify it into one of {ReadsFilesystem, ReadsVcs, ModifiesFilesystem,
// ModifiesVcs, DeletesData, Unrecognized}.
//
// Shell unwrapping is built on mvdan.cc/sh/v3's syntax package — the
// teacher's own dependency, and the only library anywhere in the retrieval
// pack built for POSIX-ish shell tokenization. It replaces a hand-rolled
// tokenizer with a real shell parser so quoting (single, double, ANSI-C
// $'...'), heredocs, and the various compound-command forms are recognized
// correctly instead of approximated with string splitting.
package classifier

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Category is the classifier's output, per spec.md §4.E.2.
type Category string

const (
	CategoryReadsFilesystem    Category = "reads_filesystem"
	CategoryReadsVcs           Category = "reads_vcs"
	CategoryModifiesFilesystem Category = "modifies_filesystem"
	CategoryModifiesVcs        Category = "modifies_vcs"
	CategoryDeletesData        Category = "deletes_data"
	CategoryUnrecognized       Category = "unrecognized"
)

// categoryRank orders categories by danger for pipeline aggregation, per
// spec.md §4.E.2: "DeletesData > ModifiesFilesystem > ModifiesVcs >
// ReadsFilesystem | ReadsVcs > Unrecognized."
var categoryRank = map[Category]int{
	CategoryDeletesData:        5,
	CategoryModifiesFilesystem: 4,
	CategoryModifiesVcs:        3,
	CategoryReadsFilesystem:    2,
	CategoryReadsVcs:           2,
	CategoryUnrecognized:       1,
}

func mostDangerous(cats []Category) Category {
	best := CategoryUnrecognized
	bestRank := 0
	for _, c := range cats {
		if r := categoryRank[c]; r > bestRank {
			bestRank = r
			best = c
		}
	}
	return best
}

// shellNames are recognized shell binaries for the "shell name ends in sh"
// unwrapping rule in spec.md §4.E.2. Matched by suffix so /bin/bash,
// /usr/bin/env bash (after resolution), dash, ash, zsh, ksh all qualify.
func isShellName(name string) bool {
	base := name
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.HasSuffix(base, "sh")
}

// Classify is the classifier's entry point.
func Classify(argv []string) Category {
	if len(argv) == 0 {
		return CategoryUnrecognized
	}

	if script, ok := shellScript(argv); ok {
		cmds, ok := unwrapPipelineScript(script)
		if !ok {
			return CategoryUnrecognized
		}
		if len(cmds) == 0 {
			return CategoryUnrecognized
		}
		cats := make([]Category, 0, len(cmds))
		for _, cmd := range cmds {
			cats = append(cats, classifySimpleCommand(cmd))
		}
		return mostDangerous(cats)
	}

	return classifySimpleCommand(argv)
}

// shellScript detects "<shell> -c|-lc SCRIPT" invocations, per spec.md
// §4.E.2's shell-unwrapping rule, and returns the script body.
func shellScript(argv []string) (string, bool) {
	if len(argv) < 3 {
		return "", false
	}
	if !isShellName(argv[0]) {
		return "", false
	}
	flag := argv[1]
	if flag != "-c" && flag != "-lc" {
		return "", false
	}
	return argv[2], true
}

// unwrapPipelineScript tokenizes script into its top-level simple commands
// (split on |, &&, ||, ;), rejecting the whole script (ok=false) if it
// contains redirections, subshells, command substitution/backticks, or
// heredocs anywhere, per spec.md §4.E.2.
func unwrapPipelineScript(script string) (cmds [][]string, ok bool) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	file, err := parser.Parse(strings.NewReader(script), "")
	if err != nil {
		return nil, false
	}

	safe := true
	syntax.Walk(file, func(node syntax.Node) bool {
		if !safe {
			return false
		}
		switch n := node.(type) {
		case *syntax.Subshell:
			safe = false
			return false
		case *syntax.CmdSubst:
			safe = false
			return false
		case *syntax.ProcSubst:
			safe = false
			return false
		case *syntax.Stmt:
			for _, r := range n.Redirs {
				_ = r
				safe = false
				return false
			}
		}
		return true
	})
	if !safe {
		return nil, false
	}

	var out [][]string
	for _, stmt := range file.Stmts {
		leaves, ok := flattenPipeline(stmt)
		if !ok {
			return nil, false
		}
		out = append(out, leaves...)
	}
	return out, true
}

// flattenPipeline walks a Stmt's command tree, which for a script with no
// subshells/substitutions is either a single *syntax.CallExpr or a chain of
// *syntax.BinaryCmd (pipe/&&/||) over CallExprs, per spec.md §4.E.2's
// "split on |, &&, ||, ;".
func flattenPipeline(stmt *syntax.Stmt) ([][]string, bool) {
	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		argv, ok := callExprArgv(cmd)
		if !ok {
			return nil, false
		}
		return [][]string{argv}, true
	case *syntax.BinaryCmd:
		switch cmd.Op {
		case syntax.Pipe, syntax.PipeAll, syntax.AndStmt, syntax.OrStmt:
			left, ok := flattenPipeline(cmd.X)
			if !ok {
				return nil, false
			}
			right, ok := flattenPipeline(cmd.Y)
			if !ok {
				return nil, false
			}
			return append(left, right...), true
		}
	}
	return nil, false
}

// callExprArgv reconstructs a plain argv slice from a CallExpr's words,
// bailing out (ok=false) if any word can't be reduced to a literal string —
// e.g. it contains an unrecognized expansion form.
func callExprArgv(cmd *syntax.CallExpr) ([]string, bool) {
	if len(cmd.Args) == 0 {
		return nil, false
	}
	argv := make([]string, 0, len(cmd.Args))
	for _, w := range cmd.Args {
		lit, ok := wordLiteral(w)
		if !ok {
			return nil, false
		}
		argv = append(argv, lit)
	}
	return argv, true
}
