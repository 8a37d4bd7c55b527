package doc

// Entry pairs a node with its path at the time it was visited.
type Entry struct {
	Node *Node
	Path Path
}

type MatchFunc func(n *Node, p Path) bool

// Texts matches text leaves.
func Texts(n *Node, _ Path) bool {
	return n.IsText()
}

// Elements matches element nodes.
func Elements(n *Node, _ Path) bool {
	return n.IsElement()
}

// Document is the editing surface the annotation engine works against.
// Mutations made inside WithoutNormalizing are applied as one batch and
// observers are notified once, after the outermost batch closes.
type Document interface {
	Children() []*Node
	Node(at Path) (*Node, bool)
	Nodes(at Path, match MatchFunc) []Entry
	Text(at Path) string

	SetNodes(attrs map[string]any, at Path)
	UnsetNodes(keys []string, at Path)
	RemoveNodes(at Path)
	SetMarks(rng Range, attrs map[string]any)
	UnsetMarks(match MatchFunc, keys []string)
	InsertText(at Point, text string)
	DeleteText(rng Range)
	ReplaceText(rng Range, text string)

	WithoutNormalizing(fn func())
	WithoutSuggestions(fn func())
	Suggesting() bool
	SetSuggesting(on bool)

	OnChange(fn func()) (unsubscribe func())
}
