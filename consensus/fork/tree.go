package fork

import (
	"fmt"
	"strings"

	"github.com/disiqueira/gotree"
	"github.com/fatih/color"

	"consensus-simulator/internal/types"
)

const hashPrefixLen = 8

type treeBlock struct {
	block    types.Block
	children []*treeBlock
	tipOf    []string
	leading  bool
}

// Tree рисует отслеживаемые ветки текстовым деревом. Общие блоки выводятся
// один раз, имена веток печатаются рядом с их вершинами. Самая длинная ветка
// подсвечивается, блоки только коротких веток приглушены.
func (r *Resolver) Tree() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return renderTree(r.branches, true)
}

// PlainTree - то же дерево без цветов терминала.
func (r *Resolver) PlainTree() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return renderTree(r.branches, false)
}

func renderTree(branches []*types.Chain, colored bool) string {
	root := gotree.New("chains")
	if len(branches) == 0 {
		return root.Print()
	}

	leader := 0
	for i, c := range branches {
		if c.Len() > branches[leader].Len() {
			leader = i
		}
	}

	var roots []*treeBlock
	nodes := make(map[string]*treeBlock)
	for i, c := range branches {
		blocks := c.Blocks()
		for j, b := range blocks {
			n, ok := nodes[b.Hash]
			if !ok {
				n = &treeBlock{block: b}
				nodes[b.Hash] = n
				if parent, found := nodes[b.PreviousHash]; found && j > 0 {
					parent.children = append(parent.children, n)
				} else {
					roots = append(roots, n)
				}
			}
			if i == leader {
				n.leading = true
			}
			if j == len(blocks)-1 {
				n.tipOf = append(n.tipOf, c.Name)
			}
		}
	}

	for _, n := range roots {
		addTreeBlock(root, n, len(branches) > 1, colored)
	}
	return root.Print()
}

func addTreeBlock(parent gotree.Tree, n *treeBlock, dimLosers, colored bool) {
	hash := n.block.Hash
	if len(hash) > hashPrefixLen {
		hash = hash[:hashPrefixLen]
	}
	label := fmt.Sprintf("#%d %s %s", n.block.Index, hash, n.block.Data)

	if len(n.tipOf) > 0 {
		label = fmt.Sprintf("%s [%s]", label, strings.Join(n.tipOf, ", "))
	}
	if colored {
		switch {
		case len(n.tipOf) > 0 && n.leading:
			label = color.HiGreenString("%s", label)
		case dimLosers && !n.leading:
			label = color.New(color.Faint).Sprint(label)
		}
	}

	node := parent.Add(label)
	for _, c := range n.children {
		addTreeBlock(node, c, dimLosers, colored)
	}
}
