// Package treelik evaluates phylogenetic likelihoods of alignment
// columns.  It provides a newick tree parser and an F81 substitution
// model with Felsenstein pruning over the DNA alphabet.
package treelik

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is one vertex of a rooted phylogenetic tree.  Leaf nodes carry
// the sequence name; every non-root node carries the length of the
// branch to its parent.
type Node struct {
	Name     string
	Length   float64
	Children []*Node
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Leaves appends the names of all leaves below n, left to right.
func (n *Node) Leaves(names []string) []string {
	if n.IsLeaf() {
		return append(names, n.Name)
	}
	for _, c := range n.Children {
		names = c.Leaves(names)
	}
	return names
}

// ParseNewick parses a newick-format tree with branch lengths, e.g.
// "((human:0.1,chimp:0.1):0.2,mouse:0.4);".  The trailing semicolon is
// optional.
func ParseNewick(s string) (*Node, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ";")
	p := &newickParser{s: s}
	root, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("treelik: trailing characters at offset %d in newick string", p.pos)
	}
	return root, nil
}

type newickParser struct {
	s   string
	pos int
}

func (p *newickParser) parseNode() (*Node, error) {

	node := new(Node)

	if p.pos < len(p.s) && p.s[p.pos] == '(' {
		p.pos++
		for {
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
			if p.pos >= len(p.s) {
				return nil, fmt.Errorf("treelik: unbalanced parentheses in newick string")
			}
			if p.s[p.pos] == ',' {
				p.pos++
				continue
			}
			if p.s[p.pos] == ')' {
				p.pos++
				break
			}
			return nil, fmt.Errorf("treelik: unexpected character %q at offset %d", p.s[p.pos], p.pos)
		}
	}

	// Optional label
	start := p.pos
	for p.pos < len(p.s) && !strings.ContainsRune("(),:;", rune(p.s[p.pos])) {
		p.pos++
	}
	node.Name = strings.TrimSpace(p.s[start:p.pos])

	// Optional branch length
	if p.pos < len(p.s) && p.s[p.pos] == ':' {
		p.pos++
		start = p.pos
		for p.pos < len(p.s) && !strings.ContainsRune("(),;", rune(p.s[p.pos])) {
			p.pos++
		}
		bl, err := strconv.ParseFloat(strings.TrimSpace(p.s[start:p.pos]), 64)
		if err != nil {
			return nil, fmt.Errorf("treelik: bad branch length %q", p.s[start:p.pos])
		}
		node.Length = bl
	}

	if node.IsLeaf() && node.Name == "" {
		return nil, fmt.Errorf("treelik: unnamed leaf at offset %d", p.pos)
	}

	return node, nil
}

// String renders the subtree in newick format.
func (n *Node) String() string {
	var sb strings.Builder
	n.render(&sb)
	sb.WriteByte(';')
	return sb.String()
}

func (n *Node) render(sb *strings.Builder) {
	if !n.IsLeaf() {
		sb.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				sb.WriteByte(',')
			}
			c.render(sb)
		}
		sb.WriteByte(')')
	}
	sb.WriteString(n.Name)
	if n.Length > 0 {
		fmt.Fprintf(sb, ":%g", n.Length)
	}
}
