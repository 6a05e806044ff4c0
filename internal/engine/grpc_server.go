package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/policy"
)

// Сообщения — google.protobuf.Struct, поля описаны у каждого метода.
const OrchestratorServiceName = "orchestrator.v1.OrchestratorService"

type OrchestratorServiceServer interface {
	SubmitTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTask(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var OrchestratorServiceDesc = grpc.ServiceDesc{
	ServiceName: OrchestratorServiceName,
	HandlerType: (*OrchestratorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTask", Handler: unaryHandler("SubmitTask", OrchestratorServiceServer.SubmitTask)},
		{MethodName: "GetTask", Handler: unaryHandler("GetTask", OrchestratorServiceServer.GetTask)},
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", OrchestratorServiceServer.GetStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orchestrator/v1/orchestrator.proto",
}

func RegisterOrchestratorServer(s grpc.ServiceRegistrar, srv OrchestratorServiceServer) {
	s.RegisterService(&OrchestratorServiceDesc, srv)
}

type structCall func(OrchestratorServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call structCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(OrchestratorServiceServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + OrchestratorServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// GRPCServer — тот же пайплайн, что и HTTP: политика, затем оркестратор.
type GRPCServer struct {
	orch     *Orchestrator
	enforcer policy.Enforcer
	logger   *zap.Logger
}

func NewGRPCServer(orch *Orchestrator, enforcer policy.Enforcer, logger *zap.Logger) *GRPCServer {
	return &GRPCServer{orch: orch, enforcer: enforcer, logger: logger.Named("grpc")}
}

// SubmitTask: {name, description, agent_type, priority, capabilities[]} -> task
func (s *GRPCServer) SubmitTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f := in.GetFields()
	req := domain.TaskRequest{
		Name:        f["name"].GetStringValue(),
		Description: f["description"].GetStringValue(),
		AgentType:   f["agent_type"].GetStringValue(),
		Source:      domain.SourceGRPC,
	}
	prio, err := domain.ParsePriority(f["priority"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	req.Priority = prio
	for _, v := range f["capabilities"].GetListValue().GetValues() {
		req.Capabilities = append(req.Capabilities, v.GetStringValue())
	}

	category := req.AgentType
	if category == "" {
		category = domain.CategoryGeneric
	}
	if !s.enforcer.Authorize(ctx, policy.ActionSubmitTask, category) {
		return nil, status.Errorf(codes.PermissionDenied, "not allowed to submit %s tasks", category)
	}

	task, err := s.orch.AddTask(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(task)
}

// GetTask: {id} -> task
func (s *GRPCServer) GetTask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !s.enforcer.Authorize(ctx, policy.ActionReadTasks, "") {
		return nil, status.Error(codes.PermissionDenied, "not allowed to read tasks")
	}
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	task, err := s.orch.GetTask(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(task)
}

// GetStatus: {} -> system status
func (s *GRPCServer) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if !s.enforcer.Authorize(ctx, policy.ActionReadTasks, "") {
		return nil, status.Error(codes.PermissionDenied, "not allowed to read status")
	}
	return toStruct(s.orch.GetSystemStatus())
}

// toStruct переводит значение в Struct через JSON, чтобы имена полей совпадали с HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to create proto struct: %v", err)
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrInvalidPriority):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrTaskNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
	}
}
