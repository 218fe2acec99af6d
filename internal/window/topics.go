package window

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aria-assistant/aria/internal/models"
)

// TopicGraph records which topics a conversation's compacts covered, so
// past discussions can be found by subject. All writes are best-effort;
// compaction never fails because the graph is down.
type TopicGraph struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewTopicGraph connects to the Dgraph alpha endpoint and installs the
// topic schema.
func NewTopicGraph(alphaURL string) (*TopicGraph, error) {
	conn, err := grpc.Dial(alphaURL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Dgraph: %w", err)
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))

	g := &TopicGraph{client: client, conn: conn}
	if err := g.initSchema(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return g, nil
}

func (g *TopicGraph) initSchema(ctx context.Context) error {
	schema := `
		type Topic {
			topic.name: string
			topic.user: string
		}

		type Compact {
			compact.id: string
			compact.conversation: string
			compact.boundary: int
			compact.created: datetime
			covers: [Topic]
		}

		topic.name: string @index(exact, term) @upsert .
		topic.user: string @index(exact) .

		compact.id: string @index(exact) @upsert .
		compact.conversation: string @index(exact) .
		compact.boundary: int .
		compact.created: datetime @index(hour) .

		covers: [uid] @reverse .
	`
	return g.client.Alter(ctx, &api.Operation{Schema: schema})
}

// RecordCompact links a compact node to one topic node per topic,
// upserting topics by (name, user).
func (g *TopicGraph) RecordCompact(ctx context.Context, userID string, compact *models.Compact) error {
	topicUIDs := make([]string, 0, len(compact.Topics))
	for _, topic := range compact.Topics {
		uid, err := g.upsertTopic(ctx, userID, topic)
		if err != nil {
			return fmt.Errorf("failed to upsert topic %q: %w", topic, err)
		}
		topicUIDs = append(topicUIDs, uid)
	}

	node := compactNode{
		UID:          "_:compact",
		ID:           compact.ID,
		Conversation: compact.ConversationID,
		Boundary:     compact.MessagesUpTo,
		Created:      compact.CreatedAt.Format(time.RFC3339),
		Covers:       uidRefs(topicUIDs),
		DgraphType:   "Compact",
	}
	setJSON, err := json.Marshal(node)
	if err != nil {
		return err
	}

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	_, err = txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: setJSON})
	return err
}

type compactNode struct {
	UID          string   `json:"uid"`
	ID           string   `json:"compact.id"`
	Conversation string   `json:"compact.conversation"`
	Boundary     int      `json:"compact.boundary"`
	Created      string   `json:"compact.created"`
	Covers       []uidRef `json:"covers"`
	DgraphType   string   `json:"dgraph.type"`
}

type topicNode struct {
	UID        string `json:"uid"`
	Name       string `json:"topic.name"`
	User       string `json:"topic.user"`
	DgraphType string `json:"dgraph.type"`
}

type uidRef struct {
	UID string `json:"uid"`
}

func uidRefs(uids []string) []uidRef {
	refs := make([]uidRef, len(uids))
	for i, uid := range uids {
		refs[i] = uidRef{UID: uid}
	}
	return refs
}

func (g *TopicGraph) upsertTopic(ctx context.Context, userID, name string) (string, error) {
	// Topic names come from model output, so they go through query
	// variables rather than string interpolation.
	const query = `query topics($name: string, $user: string) {
		topics(func: eq(topic.name, $name)) @filter(eq(topic.user, $user)) {
			uid
		}
	}`

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, query, map[string]string{"$name": name, "$user": userID})
	if err != nil {
		return "", err
	}

	var result struct {
		Topics []struct {
			UID string `json:"uid"`
		} `json:"topics"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", err
	}
	if len(result.Topics) > 0 {
		return result.Topics[0].UID, nil
	}

	setJSON, err := json.Marshal(topicNode{
		UID:        "_:topic",
		Name:       name,
		User:       userID,
		DgraphType: "Topic",
	})
	if err != nil {
		return "", err
	}

	wtxn := g.client.NewTxn()
	defer wtxn.Discard(ctx)

	assigned, err := wtxn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: setJSON})
	if err != nil {
		return "", err
	}
	return assigned.Uids["topic"], nil
}

// ConversationsByTopic returns conversation IDs whose compacts cover
// the given topic for a user.
func (g *TopicGraph) ConversationsByTopic(ctx context.Context, userID, topic string) ([]string, error) {
	const query = `query topics($name: string, $user: string) {
		topics(func: eq(topic.name, $name)) @filter(eq(topic.user, $user)) {
			~covers {
				compact.conversation
			}
		}
	}`

	txn := g.client.NewTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, query, map[string]string{"$name": topic, "$user": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to query topic graph: %w", err)
	}

	var result struct {
		Topics []struct {
			Covers []struct {
				Conversation string `json:"compact.conversation"`
			} `json:"~covers"`
		} `json:"topics"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, fmt.Errorf("failed to parse topic graph response: %w", err)
	}

	seen := make(map[string]bool)
	var convs []string
	for _, t := range result.Topics {
		for _, c := range t.Covers {
			if !seen[c.Conversation] {
				seen[c.Conversation] = true
				convs = append(convs, c.Conversation)
			}
		}
	}
	return convs, nil
}

// Close closes the gRPC connection.
func (g *TopicGraph) Close() error {
	return g.conn.Close()
}
