package grpccas

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/inmemory"
	"basewall.xyz/wallsign/storage/localfs"
	"basewall.xyz/wallsign/storage/testkit"
)

func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	RegisterBlobsServer(gs, srv)
	go func() {
		_ = gs.Serve(lis)
	}()
	t.Cleanup(gs.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.DialContext(ctx) }
	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewClient(cc, 2*time.Second)
}

func TestGRPCCAS_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		t.Helper()
		return startServer(t, &Server{CAS: inmemory.New()})
	})
}

func TestGRPCCAS_LocalFS_RoundTrip(t *testing.T) {
	cas, err := localfs.New(t.TempDir())
	require.NoError(t, err)
	client := startServer(t, &Server{CAS: cas})
	ctx := context.Background()

	payload := []byte{0x02, 0x00, 0x00}
	id, err := client.Put(ctx, payload)
	require.NoError(t, err)
	require.True(t, id.Defined())

	ok, err := client.Has(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := client.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	// The object is visible through the backing store as well.
	direct, err := cas.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, payload, direct)
}

func TestGRPCCAS_ReadOnly(t *testing.T) {
	backing := inmemory.New()
	id, err := backing.Put(context.Background(), []byte("png"))
	require.NoError(t, err)

	client := startServer(t, &Server{CAS: backing, ReadOnly: true})
	_, err = client.Put(context.Background(), []byte("other"))
	require.Error(t, err)

	got, err := client.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), got)
}
