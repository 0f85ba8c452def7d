//go:build integration

package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startQdrant(t *testing.T) QdrantConfig {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "qdrant/qdrant:v1.13.4",
			ExposedPorts: []string{"6334/tcp"},
			WaitingFor:   wait.ForListeningPort("6334/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start qdrant: %v", err)
	}
	t.Cleanup(func() { testcontainers.TerminateContainer(c) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := c.MappedPort(ctx, "6334/tcp")
	if err != nil {
		t.Fatal(err)
	}
	return QdrantConfig{Host: host, Port: port.Int()}
}

func TestIndexNearest(t *testing.T) {
	client, err := NewClient(startQdrant(t))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	ctx := context.Background()
	idx := NewIndex(client, "proposals_test", 3)

	hit, err := idx.Nearest(ctx, []float32{1, 0, 0}, map[string]string{"thread": "t1"})
	if err != nil || hit != nil {
		t.Fatalf("empty index: hit=%v err=%v", hit, err)
	}

	id := uuid.New().String()
	if err := idx.Remember(ctx, id, []float32{1, 0, 0}, map[string]string{"thread": "t1", "text": "flashcards"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remember(ctx, uuid.New().String(), []float32{1, 0, 0}, map[string]string{"thread": "t2"}); err != nil {
		t.Fatal(err)
	}

	hit, err = idx.Nearest(ctx, []float32{0.9, 0.1, 0}, map[string]string{"thread": "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if hit == nil || hit.ID != id || hit.Payload["text"] != "flashcards" {
		t.Fatalf("hit = %+v", hit)
	}
	if hit.Score < 0.9 {
		t.Errorf("score = %v, want near 1", hit.Score)
	}
}
