// Package idgen выдаёт идентификаторы сущностей на основе snowflake.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Node генерирует уникальные в пределах кластера идентификаторы.
type Node struct {
	node *snowflake.Node
}

// New создаёт генератор для узла nodeID (0..1023).
func New(nodeID int64) (*Node, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &Node{node: node}, nil
}

// NextID возвращает следующий идентификатор.
func (n *Node) NextID() int64 {
	return n.node.Generate().Int64()
}
