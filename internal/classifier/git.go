package classifier

import "strings"

// gitReadsVcs are git subcommands that only inspect repository state, per
// spec.md §4.E.4.
var gitReadsVcs = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true,
	"ls-files": true, "blame": true, "describe": true, "shortlog": true,
	"reflog": true, "remote": true, "tag": true,
}

// gitModifiesVcs are subcommands that change repository state without
// destroying history, per spec.md §4.E.4.
var gitModifiesVcs = map[string]bool{
	"add": true, "commit": true, "merge": true, "rebase": true,
	"fetch": true, "pull": true, "stash": true, "cherry-pick": true,
	"tag-create": true, "init": true, "mv": true, "submodule": true,
}

// gitDeletesData are subcommands that can irrecoverably destroy data, per
// spec.md §4.E.4.
var gitDeletesData = map[string]bool{
	"clean": true,
}

// gitCategory implements spec.md §4.E.4's git sub-rules.
func gitCategory(n normalized) Category {
	switch n.Subcommand {
	case "":
		return CategoryUnrecognized
	case "branch":
		return gitBranchCategory(n)
	case "checkout":
		return gitCheckoutCategory(n)
	case "push":
		if hasFlag(n.Flags, "--force", "-f") {
			return CategoryDeletesData
		}
		return CategoryModifiesVcs
	case "reset":
		if hasFlag(n.Flags, "--hard") {
			return CategoryDeletesData
		}
		return CategoryModifiesVcs
	}

	if gitReadsVcs[n.Subcommand] {
		return CategoryReadsVcs
	}
	if gitDeletesData[n.Subcommand] {
		return CategoryDeletesData
	}
	if gitModifiesVcs[n.Subcommand] {
		return CategoryModifiesVcs
	}
	return CategoryUnrecognized
}

// gitBranchCategory handles "git branch --list" (read) vs. "git branch -D"
// (delete) vs. plain branch creation (modify).
func gitBranchCategory(n normalized) Category {
	if hasFlag(n.Flags, "--list", "-l") || len(n.Operands) == 0 && len(n.Flags) == 0 {
		return CategoryReadsVcs
	}
	if hasFlag(n.Flags, "-D", "--delete", "-d") {
		return CategoryDeletesData
	}
	return CategoryModifiesVcs
}

// gitCheckoutCategory handles "git checkout -b NAME" (creates a branch,
// ModifiesVcs) vs. plain "git checkout PATH/REF" (also ModifiesVcs, since
// it mutates the working tree), per spec.md §4.E.4's examples.
func gitCheckoutCategory(n normalized) Category {
	return CategoryModifiesVcs
}

// ExtractCommitMessage extracts the -m message argument from a
// "git commit -m MSG" invocation, for the auditing spec.md §4.E.4
// describes. Returns ok=false if no -m/--message flag with a value is
// present.
func ExtractCommitMessage(argv []string) (string, bool) {
	for i, a := range argv {
		if a == "-m" || a == "--message" {
			if i+1 < len(argv) {
				return argv[i+1], true
			}
			return "", false
		}
		if strings.HasPrefix(a, "--message=") {
			return strings.TrimPrefix(a, "--message="), true
		}
	}
	return "", false
}
