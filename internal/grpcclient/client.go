package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/kyc-liveness/internal/liveness"
	"github.com/example/kyc-liveness/internal/logging"
)

const (
	// LandmarkServiceName is the gRPC service exposing the landmark model.
	LandmarkServiceName = "landmarks.v1.LandmarkService"
	// DetectLandmarksMethod is the full method name of the detection call.
	DetectLandmarksMethod = "/" + LandmarkServiceName + "/DetectLandmarks"
)

// DialLandmarkService returns a ready-to-use landmark provider for the model service.
func DialLandmarkService(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (liveness.LandmarkProvider, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_landmark_service", "", err)
		logger.Error("failed to dial landmark service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewLandmarkClient(conn, logger), conn, nil
}

// NewLandmarkClient wraps an existing connection.
func NewLandmarkClient(conn grpc.ClientConnInterface, logger *zap.Logger) liveness.LandmarkProvider {
	return &grpcLandmarkProvider{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		logger: logger.Named("landmark_client"),
	}
}

type grpcLandmarkProvider struct {
	conn   grpc.ClientConnInterface
	health healthpb.HealthClient
	logger *zap.Logger
}

func (g *grpcLandmarkProvider) Ready(ctx context.Context) error {
	resp, err := g.health.Check(ctx, &healthpb.HealthCheckRequest{Service: LandmarkServiceName})
	if err != nil {
		return logging.NewOperationError("grpcclient.landmark_health", "", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("landmark service status %s", resp.GetStatus())
	}
	return nil
}

func (g *grpcLandmarkProvider) Detect(ctx context.Context, frame []byte) (*liveness.LandmarkResult, error) {
	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, DetectLandmarksMethod, wrapperspb.Bytes(frame), resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_landmarks", "", err)
		g.logger.Debug("landmark call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return decodeLandmarks(resp)
}

// decodeLandmarks reads {width, height, faces:[{score, points:[x0,y0,...]}]}.
func decodeLandmarks(resp *structpb.Struct) (*liveness.LandmarkResult, error) {
	fields := resp.GetFields()
	result := &liveness.LandmarkResult{
		Width:  int(fields["width"].GetNumberValue()),
		Height: int(fields["height"].GetNumberValue()),
	}
	for i, v := range fields["faces"].GetListValue().GetValues() {
		face := v.GetStructValue()
		if face == nil {
			return nil, fmt.Errorf("face %d is not an object", i)
		}
		coords := face.GetFields()["points"].GetListValue().GetValues()
		if len(coords)%2 != 0 {
			return nil, fmt.Errorf("face %d has an odd number of coordinates", i)
		}
		points := make([]liveness.Point, 0, len(coords)/2)
		for j := 0; j < len(coords); j += 2 {
			points = append(points, liveness.Point{X: coords[j].GetNumberValue(), Y: coords[j+1].GetNumberValue()})
		}
		result.Faces = append(result.Faces, liveness.FaceLandmarks{
			Points: points,
			Score:  face.GetFields()["score"].GetNumberValue(),
		})
	}
	return result, nil
}
