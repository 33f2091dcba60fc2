package gameserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/mapworld/internal/game/geom"
	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// Wire names of the transition service.
const (
	TransitionServiceName = "mapworld.transition.v1.TransitionService"
	canLeaveMapMethod     = "/" + TransitionServiceName + "/CanLeaveMap"
)

// TransitionServiceServer is the server API of the transition service.
// Requests and replies travel as protobuf Structs.
type TransitionServiceServer interface {
	CanLeaveMap(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// TransitionServiceDesc describes the transition service to grpc.Server.
var TransitionServiceDesc = grpc.ServiceDesc{
	ServiceName: TransitionServiceName,
	HandlerType: (*TransitionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CanLeaveMap",
			Handler:    canLeaveMapHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mapworld/transition/v1/transition.proto",
}

func canLeaveMapHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransitionServiceServer).CanLeaveMap(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: canLeaveMapMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransitionServiceServer).CanLeaveMap(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// TransitionService serves an Authority over gRPC.
type TransitionService struct {
	authority transition.Authority
	logger    *zap.Logger
}

// NewTransitionService creates a TransitionService answering with authority.
//
// Precondition: authority and logger must not be nil.
func NewTransitionService(authority transition.Authority, logger *zap.Logger) *TransitionService {
	return &TransitionService{authority: authority, logger: logger}
}

// Register adds the service to s.
func (ts *TransitionService) Register(s *grpc.Server) {
	s.RegisterService(&TransitionServiceDesc, ts)
}

// CanLeaveMap decodes a LeaveRequest, asks the authority and encodes its
// reply.
//
// Postcondition: Returns codes.InvalidArgument for a malformed request.
func (ts *TransitionService) CanLeaveMap(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeLeaveRequest(in)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding leave request: %v", err)
	}
	reply, err := ts.authority.CanLeave(ctx, req)
	if err != nil {
		ts.logger.Warn("authority failed",
			zap.String("uid", req.UID),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Errorf(codes.Internal, "deciding transition: %v", err)
	}
	out, err := encodeLeaveReply(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding leave reply: %v", err)
	}
	return out, nil
}

// GRPCAuthority is a transition.Authority that asks a remote
// TransitionService.
type GRPCAuthority struct {
	conn grpc.ClientConnInterface
}

// NewGRPCAuthority creates a GRPCAuthority over conn.
//
// Precondition: conn must not be nil.
func NewGRPCAuthority(conn grpc.ClientConnInterface) *GRPCAuthority {
	return &GRPCAuthority{conn: conn}
}

// CanLeave sends req to the remote service.
//
// Postcondition: A ctx deadline surfaces as an error matching
// context.DeadlineExceeded.
func (a *GRPCAuthority) CanLeave(ctx context.Context, req transition.LeaveRequest) (transition.LeaveReply, error) {
	in, err := encodeLeaveRequest(req)
	if err != nil {
		return transition.LeaveReply{}, fmt.Errorf("encoding leave request: %w", err)
	}
	out := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, canLeaveMapMethod, in, out); err != nil {
		if status.Code(err) == codes.DeadlineExceeded {
			return transition.LeaveReply{}, fmt.Errorf("calling %s: %w", canLeaveMapMethod, context.DeadlineExceeded)
		}
		return transition.LeaveReply{}, fmt.Errorf("calling %s: %w", canLeaveMapMethod, err)
	}
	reply, err := decodeLeaveReply(out)
	if err != nil {
		return transition.LeaveReply{}, fmt.Errorf("decoding leave reply: %w", err)
	}
	return reply, nil
}

func encodeLeaveRequest(req transition.LeaveRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request_id":  req.RequestID,
		"uid":         req.UID,
		"from":        encodeLocation(req.From),
		"target":      encodeLocation(req.Target),
		"x":           req.Position.X,
		"y":           req.Position.Y,
		"orientation": req.Orientation,
	})
}

func decodeLeaveRequest(s *structpb.Struct) (transition.LeaveRequest, error) {
	f := s.GetFields()
	req := transition.LeaveRequest{
		RequestID:   f["request_id"].GetStringValue(),
		UID:         f["uid"].GetStringValue(),
		Position:    geom.Point{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue()},
		Orientation: f["orientation"].GetNumberValue(),
	}
	if req.UID == "" {
		return transition.LeaveRequest{}, errors.New("missing uid")
	}
	var err error
	if req.From, err = decodeLocation(f["from"]); err != nil {
		return transition.LeaveRequest{}, fmt.Errorf("from: %w", err)
	}
	if req.Target, err = decodeLocation(f["target"]); err != nil {
		return transition.LeaveRequest{}, fmt.Errorf("target: %w", err)
	}
	return req, nil
}

func encodeLeaveReply(r transition.LeaveReply) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"request_id":  r.RequestID,
		"accepted":    r.Accepted,
		"reason":      r.Reason,
		"target":      encodeLocation(r.Target),
		"x":           r.Position.X,
		"y":           r.Position.Y,
		"orientation": r.Orientation,
	})
}

func decodeLeaveReply(s *structpb.Struct) (transition.LeaveReply, error) {
	f := s.GetFields()
	r := transition.LeaveReply{
		RequestID:   f["request_id"].GetStringValue(),
		Accepted:    f["accepted"].GetBoolValue(),
		Reason:      f["reason"].GetStringValue(),
		Position:    geom.Point{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue()},
		Orientation: f["orientation"].GetNumberValue(),
	}
	if !r.Accepted {
		return r, nil
	}
	target, err := decodeLocation(f["target"])
	if err != nil {
		return transition.LeaveReply{}, fmt.Errorf("target: %w", err)
	}
	r.Target = target
	return r, nil
}

func encodeLocation(l world.Location) map[string]any {
	return map[string]any{
		"world":        l.WorldID,
		"town":         l.TownID,
		"building":     l.BuildingID,
		"interior_map": l.InteriorMapID,
		"room":         l.RoomID,
		"tile_map":     l.TileMapID,
	}
}

func decodeLocation(v *structpb.Value) (world.Location, error) {
	s := v.GetStructValue()
	if s == nil {
		return world.Location{}, errors.New("missing location")
	}
	f := s.GetFields()
	field := func(name string) int {
		n, ok := f[name]
		if !ok {
			return world.Unset
		}
		return int(n.GetNumberValue())
	}
	l := world.Location{
		WorldID:       field("world"),
		TownID:        field("town"),
		BuildingID:    field("building"),
		InteriorMapID: field("interior_map"),
		RoomID:        field("room"),
		TileMapID:     field("tile_map"),
	}
	if l.Shape() == world.ShapeInvalid {
		return world.Location{}, fmt.Errorf("invalid location %s", l)
	}
	return l, nil
}
