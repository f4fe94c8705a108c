package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/shared/types"
)

const testUserAgent = "fetchbridge-test/1.0"

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *resource.Table) {
	t.Helper()
	table := resource.NewTable()
	builder := NewBuilder(WithUserAgent(testUserAgent))
	t.Cleanup(func() {
		_ = table.CloseAll()
		builder.CloseIdleConnections()
	})
	return NewOrchestrator(table, builder, opts...), table
}

func get(url string, headers ...types.Header) *types.RequestDescriptor {
	return &types.RequestDescriptor{Method: http.MethodGet, URL: url, Headers: headers}
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

// blockingServer never answers until the client goes away or the test ends.
func blockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

// fetchAll awaits h and reads the body to the end.
func fetchAll(t *testing.T, o *Orchestrator, h resource.Handle) (*types.FetchResponse, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := o.Await(ctx, h)
	require.NoError(t, err)

	var body []byte
	for {
		chunk, eof, err := o.ReadChunk(ctx, resource.Handle(resp.RID))
		require.NoError(t, err)
		if eof {
			return resp, body
		}
		body = append(body, chunk...)
	}
}

func headerValue(headers []types.Header, name string) (string, bool) {
	for _, h := range headers {
		if h[0] == name {
			return h[1], true
		}
	}
	return "", false
}
