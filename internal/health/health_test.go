package health

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dutschedule/dutnotify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakePinger struct{ err error }

func (p *fakePinger) Ping(context.Context) error { return p.err }

func TestNewsStatusFollowsRefreshes(t *testing.T) {
	s := NewServer(&fakePinger{})
	ctx := context.Background()

	status, err := s.Check(ctx, NewsService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	s.RecordNewsResult(domain.NewsTypeGlobal, true)
	s.RecordNewsResult(domain.NewsTypeSubject, true)
	status, err = s.Check(ctx, NewsService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	s.RecordNewsResult(domain.NewsTypeSubject, false)
	status, err = s.Check(ctx, NewsService)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestOverallStatusFollowsStore(t *testing.T) {
	pinger := &fakePinger{}
	s := NewServer(pinger)
	ctx := context.Background()

	require.NoError(t, s.CheckStore(ctx))
	status, err := s.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	pinger.err = errors.New("disk gone")
	assert.Error(t, s.CheckStore(ctx))
	status, err = s.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	_, err = s.Check(ctx, "unknown.service")
	assert.Error(t, err)
}

func TestServeOverGRPC(t *testing.T) {
	s := NewServer(&fakePinger{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	require.NoError(t, s.CheckStore(context.Background()))

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
