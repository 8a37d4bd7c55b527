// Package anchor keeps one display block per annotation so an annotation
// spanning several blocks is listed once.
package anchor

import (
	"chronicle/annotations/internal/annotation"
	"chronicle/annotations/internal/doc"
	"chronicle/annotations/internal/marks"
)

type Map struct {
	paths map[annotation.ID]doc.Path
}

func New() *Map {
	return &Map{paths: map[annotation.ID]doc.Path{}}
}

func (m *Map) Anchor(id annotation.ID) (doc.Path, bool) {
	p, ok := m.paths[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Observe records that id was seen in the block at blockPath. An existing
// anchor is kept while the id's mark still resolves there; otherwise the id
// moves to blockPath. It reports whether the anchor changed.
func (m *Map) Observe(d doc.Document, id annotation.ID, blockPath doc.Path) bool {
	if prev, ok := m.paths[id]; ok {
		if prev.Equal(blockPath) || Resolves(d, id, prev) {
			return false
		}
	}
	m.paths[id] = blockPath.Clone()
	return true
}

// ObserveBlock observes every comment and suggestion id found in the block.
func (m *Map) ObserveBlock(d doc.Document, blockPath doc.Path) []annotation.ID {
	ids := IDsIn(d, blockPath)
	for _, id := range ids {
		m.Observe(d, id, blockPath)
	}
	return ids
}

// Rebuild discards every anchor and observes the top-level blocks in order,
// so each id lands on the first block that carries it.
func (m *Map) Rebuild(d doc.Document) {
	m.paths = map[annotation.ID]doc.Path{}
	for i := range d.Children() {
		m.ObserveBlock(d, doc.Path{i})
	}
}

func (m *Map) Forget(id annotation.ID) {
	delete(m.paths, id)
}

func (m *Map) Len() int {
	return len(m.paths)
}

// Resolves reports whether a comment or suggestion mark for id exists at or
// under p.
func Resolves(d doc.Document, id annotation.ID, p doc.Path) bool {
	for _, entry := range d.Nodes(p, nil) {
		if entry.Node.IsText() && marks.HasComment(entry.Node, id) {
			return true
		}
		if marks.HasSuggestion(entry.Node, id) {
			return true
		}
	}
	return false
}

// IDsIn lists the comment and suggestion ids marked at or under p, sorted.
func IDsIn(d doc.Document, p doc.Path) []annotation.ID {
	var lists [][]annotation.ID
	for _, entry := range d.Nodes(p, nil) {
		n := entry.Node
		if n.IsText() {
			lists = append(lists, marks.IDsOnLeaf(n), marks.SuggestionIDs(n))
			continue
		}
		if data, ok := marks.BlockSuggestion(n); ok {
			lists = append(lists, []annotation.ID{data.ID})
		}
	}
	return marks.UniqueIDs(lists...)
}
