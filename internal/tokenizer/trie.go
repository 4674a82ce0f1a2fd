package tokenizer

type trieNode struct {
	children map[byte]*trieNode
	hasID    bool
	id       int
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[byte]*trieNode)}
}

func (n *trieNode) insert(piece string, id int) {
	cur := n
	for i := 0; i < len(piece); i++ {
		b := piece[i]
		child, ok := cur.children[b]
		if !ok {
			child = newTrieNode()
			cur.children[b] = child
		}
		cur = child
	}
	cur.hasID = true
	cur.id = id
}

// longest returns the id and byte length of the longest piece that
// prefixes text[start:]. length is 0 when nothing matches.
func (n *trieNode) longest(text string, start int) (id, length int) {
	cur := n
	for i := start; i < len(text); i++ {
		child, ok := cur.children[text[i]]
		if !ok {
			break
		}
		cur = child
		if cur.hasID {
			id, length = cur.id, i-start+1
		}
	}
	return id, length
}
