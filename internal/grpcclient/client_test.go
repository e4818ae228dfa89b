package grpcclient

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type landmarkHandler func(frame []byte) (*structpb.Struct, error)

func startLandmarkServer(t *testing.T, handler landmarkHandler, serving bool) *bufconn.Listener {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()

	hs := health.NewServer()
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(LandmarkServiceName, st)
	healthpb.RegisterHealthServer(srv, hs)

	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: LandmarkServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "DetectLandmarks",
			Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				in := &wrapperspb.BytesValue{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return handler(in.GetValue())
			},
		}},
	}, struct{}{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dial(t *testing.T, lis *bufconn.Listener) *grpcLandmarkProvider {
	t.Helper()
	provider, conn, err := DialLandmarkService(context.Background(), "bufnet", zap.NewNop(),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return provider.(*grpcLandmarkProvider)
}

func TestDetectDecodesFaces(t *testing.T) {
	var received []byte
	lis := startLandmarkServer(t, func(frame []byte) (*structpb.Struct, error) {
		received = frame
		return structpb.NewStruct(map[string]interface{}{
			"width":  1280,
			"height": 720,
			"faces": []interface{}{
				map[string]interface{}{
					"score":  0.93,
					"points": []interface{}{10, 20, 30, 40},
				},
			},
		})
	}, true)

	provider := dial(t, lis)
	require.NoError(t, provider.Ready(context.Background()))

	result, err := provider.Detect(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, "jpeg-bytes", string(received))
	require.Equal(t, 1280, result.Width)
	require.Equal(t, 720, result.Height)
	require.Len(t, result.Faces, 1)
	require.InDelta(t, 0.93, result.Faces[0].Score, 1e-9)
	require.Len(t, result.Faces[0].Points, 2)
	require.Equal(t, 30.0, result.Faces[0].Points[1].X)
	require.Equal(t, 40.0, result.Faces[0].Points[1].Y)
}

func TestReadyReportsNotServing(t *testing.T) {
	lis := startLandmarkServer(t, func([]byte) (*structpb.Struct, error) { return &structpb.Struct{}, nil }, false)
	provider := dial(t, lis)

	require.Error(t, provider.Ready(context.Background()))
}

func TestDetectPropagatesServerErrors(t *testing.T) {
	lis := startLandmarkServer(t, func([]byte) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model reloading")
	}, true)
	provider := dial(t, lis)

	_, err := provider.Detect(context.Background(), []byte("x"))
	require.Error(t, err)
	require.Equal(t, codes.Unavailable, status.Code(err))
}

func TestDecodeLandmarksRejectsOddCoordinates(t *testing.T) {
	resp, err := structpb.NewStruct(map[string]interface{}{
		"faces": []interface{}{map[string]interface{}{"points": []interface{}{1, 2, 3}}},
	})
	require.NoError(t, err)

	_, err = decodeLandmarks(resp)
	require.Error(t, err)
}
