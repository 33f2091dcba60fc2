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
	"github.com/cory-johannsen/mapworld/internal/game/session"
	"github.com/cory-johannsen/mapworld/internal/game/transition"
	"github.com/cory-johannsen/mapworld/internal/game/world"
)

// SessionServiceName is the wire name of the session service.
const SessionServiceName = "mapworld.session.v1.SessionService"

// SessionServiceServer is the server API of the session service. Remote
// clients join players into the server's simulation, steer them and take
// them out again. Requests and replies travel as protobuf Structs.
type SessionServiceServer interface {
	Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Where(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Move(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Say(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// SessionServiceDesc describes the session service to grpc.Server.
var SessionServiceDesc = grpc.ServiceDesc{
	ServiceName: SessionServiceName,
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: sessionHandler("Join", SessionServiceServer.Join)},
		{MethodName: "Where", Handler: sessionHandler("Where", SessionServiceServer.Where)},
		{MethodName: "Move", Handler: sessionHandler("Move", SessionServiceServer.Move)},
		{MethodName: "Say", Handler: sessionHandler("Say", SessionServiceServer.Say)},
		{MethodName: "Leave", Handler: sessionHandler("Leave", SessionServiceServer.Leave)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mapworld/session/v1/session.proto",
}

type sessionCall func(SessionServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func sessionMethod(name string) string {
	return "/" + SessionServiceName + "/" + name
}

func sessionHandler(name string, call sessionCall) grpc.MethodHandler {
	fullMethod := sessionMethod(name)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SessionServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SessionServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SessionService serves the players of a Simulation over gRPC.
type SessionService struct {
	sim    *Simulation
	logger *zap.Logger
}

// NewSessionService creates a SessionService over sim.
//
// Precondition: sim and logger must not be nil.
func NewSessionService(sim *Simulation, logger *zap.Logger) *SessionService {
	return &SessionService{sim: sim, logger: logger}
}

// Register adds the service to s.
func (ss *SessionService) Register(s *grpc.Server) {
	s.RegisterService(&SessionServiceDesc, ss)
}

// Join spawns the player named in req, at req's location when it carries
// one and at its saved or start location otherwise.
//
// Postcondition: Returns codes.AlreadyExists if the uid is already playing.
func (ss *SessionService) Join(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	uid, err := requireUID(f)
	if err != nil {
		return nil, err
	}
	name := f["name"].GetStringValue()
	if name == "" {
		name = uid
	}
	var sess *session.PlayerSession
	if v, ok := f["location"]; ok {
		loc, err := decodeLocation(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "location: %v", err)
		}
		sess, err = ss.sim.SpawnAt(uid, name, loc)
		if err != nil {
			return nil, ss.fail("join", uid, err)
		}
	} else {
		if sess, err = ss.sim.Spawn(ctx, uid, name); err != nil {
			return nil, ss.fail("join", uid, err)
		}
	}
	return encodePresence(presenceOf(sess.Body.Snapshot()))
}

// Where reports the presence of the player named in req.
func (ss *SessionService) Where(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := requireUID(in.GetFields())
	if err != nil {
		return nil, err
	}
	p, err := ss.sim.Where(uid)
	if err != nil {
		return nil, ss.fail("where", uid, err)
	}
	return encodePresence(p)
}

// Move sends the player named in req towards req's point.
func (ss *SessionService) Move(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	uid, err := requireUID(f)
	if err != nil {
		return nil, err
	}
	x, okX := f["x"]
	y, okY := f["y"]
	if !okX || !okY {
		return nil, status.Error(codes.InvalidArgument, "missing destination")
	}
	if err := ss.sim.Move(uid, geom.Point{X: x.GetNumberValue(), Y: y.GetNumberValue()}); err != nil {
		return nil, ss.fail("move", uid, err)
	}
	p, err := ss.sim.Where(uid)
	if err != nil {
		return nil, ss.fail("move", uid, err)
	}
	return encodePresence(p)
}

// Say broadcasts req's text from the player named in req.
func (ss *SessionService) Say(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	uid, err := requireUID(f)
	if err != nil {
		return nil, err
	}
	n, err := ss.sim.Say(uid, f["text"].GetStringValue())
	if err != nil {
		return nil, ss.fail("say", uid, err)
	}
	return structpb.NewStruct(map[string]any{"heard": n})
}

// Leave removes the player named in req and saves where it was.
func (ss *SessionService) Leave(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	uid, err := requireUID(in.GetFields())
	if err != nil {
		return nil, err
	}
	if err := ss.sim.Remove(ctx, uid); err != nil {
		return nil, ss.fail("leave", uid, err)
	}
	return &structpb.Struct{}, nil
}

func (ss *SessionService) fail(op, uid string, err error) error {
	ss.logger.Debug("session call failed", zap.String("op", op), zap.String("uid", uid), zap.Error(err))
	switch {
	case errors.Is(err, session.ErrPlayerExists), errors.Is(err, transition.ErrAlreadySpawned):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, session.ErrPlayerNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, world.ErrRegionNotFound):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func requireUID(f map[string]*structpb.Value) (string, error) {
	uid := f["uid"].GetStringValue()
	if uid == "" {
		return "", status.Error(codes.InvalidArgument, "missing uid")
	}
	return uid, nil
}

// SessionClient is a Driver that steers players of a remote
// SessionService.
type SessionClient struct {
	conn grpc.ClientConnInterface
}

// NewSessionClient creates a SessionClient over conn.
//
// Precondition: conn must not be nil.
func NewSessionClient(conn grpc.ClientConnInterface) *SessionClient {
	return &SessionClient{conn: conn}
}

// Join spawns uid on the server.
//
// Postcondition: Returns an error wrapping session.ErrPlayerExists if uid is
// already playing there.
func (c *SessionClient) Join(ctx context.Context, uid, name string, at *world.Location) (Presence, error) {
	in := map[string]any{"uid": uid, "name": name}
	if at != nil {
		in["location"] = encodeLocation(*at)
	}
	return c.presenceCall(ctx, "Join", in)
}

// Where reports the presence of uid on the server.
func (c *SessionClient) Where(ctx context.Context, uid string) (Presence, error) {
	return c.presenceCall(ctx, "Where", map[string]any{"uid": uid})
}

// Move sends uid towards dest.
func (c *SessionClient) Move(ctx context.Context, uid string, dest geom.Point) (Presence, error) {
	return c.presenceCall(ctx, "Move", map[string]any{"uid": uid, "x": dest.X, "y": dest.Y})
}

// Say broadcasts text from uid.
func (c *SessionClient) Say(ctx context.Context, uid, text string) (int, error) {
	out, err := c.call(ctx, "Say", map[string]any{"uid": uid, "text": text})
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["heard"].GetNumberValue()), nil
}

// Leave removes uid from the server.
//
// Postcondition: Returns an error wrapping session.ErrPlayerNotFound if uid
// is not playing there.
func (c *SessionClient) Leave(ctx context.Context, uid string) error {
	_, err := c.call(ctx, "Leave", map[string]any{"uid": uid})
	return err
}

func (c *SessionClient) presenceCall(ctx context.Context, name string, fields map[string]any) (Presence, error) {
	out, err := c.call(ctx, name, fields)
	if err != nil {
		return Presence{}, err
	}
	p, err := decodePresence(out)
	if err != nil {
		return Presence{}, fmt.Errorf("decoding %s reply: %w", name, err)
	}
	return p, nil
}

func (c *SessionClient) call(ctx context.Context, name string, fields map[string]any) (*structpb.Struct, error) {
	method := sessionMethod(name)
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", name, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		msg := status.Convert(err).Message()
		switch status.Code(err) {
		case codes.NotFound:
			return nil, fmt.Errorf("calling %s: %w: %s", method, session.ErrPlayerNotFound, msg)
		case codes.AlreadyExists:
			return nil, fmt.Errorf("calling %s: %w: %s", method, session.ErrPlayerExists, msg)
		case codes.DeadlineExceeded:
			return nil, fmt.Errorf("calling %s: %w", method, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	return out, nil
}

func encodePresence(p Presence) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{
		"location":    encodeLocation(p.Location),
		"x":           p.Position.X,
		"y":           p.Position.Y,
		"orientation": p.Orientation,
		"moving":      p.Moving,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding presence: %v", err)
	}
	return out, nil
}

func decodePresence(s *structpb.Struct) (Presence, error) {
	f := s.GetFields()
	loc, err := decodeLocation(f["location"])
	if err != nil {
		return Presence{}, fmt.Errorf("location: %w", err)
	}
	return Presence{
		Location:    loc,
		Position:    geom.Point{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue()},
		Orientation: f["orientation"].GetNumberValue(),
		Moving:      f["moving"].GetBoolValue(),
	}, nil
}
