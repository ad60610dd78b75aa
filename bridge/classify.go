package bridge

import "strings"

// ToolKind is the classification ClassifyTool assigns to a tool name.
type ToolKind string

const (
	ToolKindMCP     ToolKind = "mcp"
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindExecute ToolKind = "execute"
	ToolKindOther   ToolKind = "other"
)

var (
	readNames  = set("read", "glob", "grep", "search", "find", "list", "ls")
	readPrefix = []string{"read_", "search_", "list_", "view_"}
	readInfix  = []string{"_read", "_search", "_glob", "_grep"}

	editNames  = set("write", "edit", "multiedit", "create", "delete", "move", "rename", "patch")
	editPrefix = []string{"write_", "edit_", "create_", "delete_"}
	editInfix  = []string{"str_replace", "_write", "_edit", "_create", "_delete", "_patch"}

	execNames  = set("bash", "run", "execute", "terminal", "shell", "cmd")
	execPrefix = []string{"run_", "exec_", "bash_"}
	execInfix  = []string{"_run", "_exec", "_bash", "_terminal", "_shell"}
)

func set(vals ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		m[v] = struct{}{}
	}
	return m
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func containsAny(s string, infixes []string) bool {
	for _, in := range infixes {
		if strings.Contains(s, in) {
			return true
		}
	}
	return false
}

// ClassifyTool is a pure, total, case-insensitive function from a tool name
// to its semantic kind. Equivalent inputs always yield equivalent outputs.
func ClassifyTool(name string) ToolKind {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(n, "mcp__"):
		return ToolKindMCP
	case isIn(n, readNames) || hasAnyPrefix(n, readPrefix) || containsAny(n, readInfix):
		return ToolKindRead
	case isIn(n, editNames) || hasAnyPrefix(n, editPrefix) || containsAny(n, editInfix):
		return ToolKindEdit
	case isIn(n, execNames) || hasAnyPrefix(n, execPrefix) || containsAny(n, execInfix):
		return ToolKindExecute
	default:
		return ToolKindOther
	}
}

func isIn(s string, set map[string]struct{}) bool {
	_, ok := set[s]
	return ok
}
