package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/elasticsearch"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultESImage = "docker.elastic.co/elasticsearch/elasticsearch:8.12.0"
	esImageEnv     = "ES_TEST_IMAGE"
)

// ESContainer is a single node cluster for the product indexer tests.
type ESContainer struct {
	Container testcontainers.Container
	Addresses []string
}

// NewESContainer starts Elasticsearch without a password and registers
// cleanup on tb. Set ES_TEST_IMAGE to override the image.
func NewESContainer(ctx context.Context, tb testing.TB) *ESContainer {
	tb.Helper()

	c, err := elasticsearch.Run(ctx,
		containerImage(esImageEnv, defaultESImage),
		elasticsearch.WithPassword(""),
		testcontainers.WithEnv(map[string]string{"ES_JAVA_OPTS": "-Xms512m -Xmx512m"}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_cluster/health").
				WithPort("9200").
				WithStartupTimeout(90*time.Second),
		),
	)
	if err != nil {
		tb.Fatalf("start elasticsearch container: %v", err)
	}
	es := &ESContainer{Container: c}
	tb.Cleanup(func() {
		if err := terminate(context.Background(), es.Container); err != nil {
			tb.Logf("terminate elasticsearch container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	if err != nil {
		tb.Fatalf("elasticsearch host: %v", err)
	}
	port, err := c.MappedPort(ctx, "9200")
	if err != nil {
		tb.Fatalf("elasticsearch port: %v", err)
	}
	es.Addresses = []string{fmt.Sprintf("http://%s:%s", host, port.Port())}
	return es
}
