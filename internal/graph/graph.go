package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kestrel-ai/banter/internal/memory"
)

// Graph mirrors memories and topics into Neo4j and answers
// relatedness queries over shared topics. It satisfies memory.Mirror.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// New connects a graph mirror to Neo4j.
func New(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// MemoryStored mirrors a stored entry: a Memory node, its Topic node
// when present, and the HAS_TOPIC edge between them.
func (g *Graph) MemoryStored(ctx context.Context, e *memory.Entry, topic *memory.Topic) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (m:Memory {id: $id})
		 SET m.title = $title, m.memory_type = $type,
		     m.status = $status, m.created_at = datetime()`,
		map[string]any{
			"id":     e.ID,
			"title":  e.Title,
			"type":   string(e.Type),
			"status": string(e.Status),
		})
	if err != nil {
		return fmt.Errorf("mirror memory node: %w", err)
	}
	if topic == nil {
		return nil
	}

	_, err = session.Run(ctx,
		`MERGE (t:Topic {id: $topicId})
		 SET t.name = $name
		 WITH t
		 MATCH (m:Memory {id: $memoryId})
		 MERGE (m)-[:HAS_TOPIC]->(t)`,
		map[string]any{
			"topicId":  topic.ID,
			"name":     topic.Name,
			"memoryId": e.ID,
		})
	if err != nil {
		return fmt.Errorf("mirror topic edge: %w", err)
	}
	return nil
}

// TopicReparented records a CHILD_OF edge after the relational store
// has accepted the assignment. Any previous parent edge is replaced.
func (g *Graph) TopicReparented(ctx context.Context, topicID, parentID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (t:Topic {id: $topicId})
		 OPTIONAL MATCH (t)-[old:CHILD_OF]->()
		 DELETE old
		 WITH t
		 MERGE (p:Topic {id: $parentId})
		 MERGE (t)-[:CHILD_OF]->(p)`,
		map[string]any{"topicId": topicID, "parentId": parentID})
	if err != nil {
		return fmt.Errorf("mirror topic parent: %w", err)
	}
	return nil
}

// Related returns ids of memories sharing a topic with the given one,
// nearest topics first.
func (g *Graph) Related(ctx context.Context, memoryID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})-[:HAS_TOPIC]->(t:Topic)<-[:HAS_TOPIC]-(other:Memory)
		 WHERE other.id <> $id AND other.status = 'active'
		 RETURN DISTINCT other.id AS id
		 LIMIT $limit`,
		map[string]any{"id": memoryID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("related memories: %w", err)
	}

	var ids []string
	for result.Next(ctx) {
		if id, ok := result.Record().Get("id"); ok {
			if s, ok := id.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("related memories: %w", err)
	}
	return ids, nil
}
