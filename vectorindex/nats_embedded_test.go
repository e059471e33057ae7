package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/skillsynth/errors"
)

// startEmbeddedNATS runs a JetStream-enabled server on a random port for the
// duration of the test.
func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      server.RANDOM_PORT,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connectEmbedded(t *testing.T, ns *server.Server, dim int) *NATS {
	t.Helper()
	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	idx, err := NewNATS(NATSConfig{Conn: conn, BucketPrefix: "embedded", Dimension: dim})
	if err != nil {
		conn.Close()
		t.Fatalf("NewNATS: %v", err)
	}
	t.Cleanup(func() {
		idx.Close()
		conn.Close()
	})
	return idx
}

func TestNATS_Embedded(t *testing.T) {
	ns := startEmbeddedNATS(t)
	idx := connectEmbedded(t, ns, 3)
	ctx := context.Background()

	err := idx.Upsert(ctx, NamespaceSkills, []Record{
		{ID: "PostgreSQL", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"category": "Databases"}},
		{ID: "MySQL", Vector: []float32{0.9, 0.1, 0}},
		{ID: "C++", Vector: []float32{0, 0, 1}},
		{ID: "Node.js", Vector: []float32{0, 1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := idx.Fetch(ctx, NamespaceSkills, []string{"C++", "Node.js", "Missing"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || got["Node.js"].Vector[1] != 1 {
		t.Errorf("Fetch = %+v", got)
	}

	matches, err := idx.Query(ctx, NamespaceSkills, []float32{1, 0, 0}, 2, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "PostgreSQL" || matches[1].ID != "MySQL" {
		t.Fatalf("Query = %+v", matches)
	}
	if matches[0].Metadata["category"] != "Databases" {
		t.Errorf("metadata = %v", matches[0].Metadata)
	}

	// Namespaces are separate buckets.
	users, err := idx.Query(ctx, NamespaceUsers, []float32{1, 0, 0}, 5, false)
	if err != nil {
		t.Fatalf("Query users: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("users namespace should be empty, got %v", users)
	}
}

func TestNATS_EmbeddedSharedAcrossClients(t *testing.T) {
	ns := startEmbeddedNATS(t)
	ctx := context.Background()

	writer := connectEmbedded(t, ns, 2)
	if err := writer.Upsert(ctx, NamespaceUsers, []Record{{ID: "u1", Vector: []float32{1, 0}}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reader := connectEmbedded(t, ns, 2)
	got, err := reader.Fetch(ctx, NamespaceUsers, []string{"u1"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, ok := got["u1"]; !ok {
		t.Errorf("second client does not see u1: %v", got)
	}

	err = reader.Upsert(ctx, NamespaceUsers, []Record{{ID: "u2", Vector: []float32{1, 0, 0}}})
	if !errors.Is(err, errors.ErrCodeDimensionMismatch) {
		t.Errorf("err = %v, want DIMENSION_MISMATCH", err)
	}
}
