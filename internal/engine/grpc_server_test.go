package engine

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra/auth"
	"github.com/xela07ax/agent-orchestrator/internal/policy"
)

func dialOrchestrator(t *testing.T, srv OrchestratorServiceServer, opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(opts...)
	RegisterOrchestratorServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	err = conn.Invoke(ctx, "/"+OrchestratorServiceName+"/"+method, req, out)
	return out, err
}

func TestGRPCServer(t *testing.T) {
	o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{})
	conn := dialOrchestrator(t, NewGRPCServer(o, policy.NewScopeEnforcer(false), zap.NewNop()))
	ctx := context.Background()

	var id string
	t.Run("SubmitTask", func(t *testing.T) {
		out, err := invoke(ctx, conn, "SubmitTask", map[string]interface{}{
			"name":         "index repo",
			"agent_type":   "code",
			"priority":     "high",
			"capabilities": []interface{}{"coding"},
		})
		if err != nil {
			t.Fatalf("SubmitTask: %v", err)
		}
		f := out.GetFields()
		id = f["id"].GetStringValue()
		if id == "" || f["priority"].GetStringValue() != "high" || f["status"].GetStringValue() != "queued" || f["source"].GetStringValue() != domain.SourceGRPC {
			t.Errorf("неожиданный ответ: %v", out)
		}
	})

	t.Run("GetTask", func(t *testing.T) {
		out, err := invoke(ctx, conn, "GetTask", map[string]interface{}{"id": id})
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if out.GetFields()["name"].GetStringValue() != "index repo" {
			t.Errorf("неожиданная задача: %v", out)
		}
		_, err = invoke(ctx, conn, "GetTask", map[string]interface{}{"id": "missing"})
		if status.Code(err) != codes.NotFound {
			t.Errorf("ожидали NotFound, получили %v", err)
		}
	})

	t.Run("GetStatus", func(t *testing.T) {
		out, err := invoke(ctx, conn, "GetStatus", map[string]interface{}{})
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		queued := out.GetFields()["queue"].GetStructValue().GetFields()["queued"].GetNumberValue()
		if queued != 1 {
			t.Errorf("queued = %v, ожидали 1", queued)
		}
	})

	t.Run("неверный приоритет", func(t *testing.T) {
		_, err := invoke(ctx, conn, "SubmitTask", map[string]interface{}{"name": "x", "priority": "asap"})
		if status.Code(err) != codes.InvalidArgument {
			t.Errorf("ожидали InvalidArgument, получили %v", err)
		}
	})
}

func TestGRPCAuth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer := auth.NewSigner(key, time.Hour)
	validator := auth.NewBaseValidator(&key.PublicKey)

	o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{})
	conn := dialOrchestrator(t,
		NewGRPCServer(o, policy.NewScopeEnforcer(true), zap.NewNop()),
		grpc.UnaryInterceptor(UnaryAuthInterceptor(validator, zap.NewNop())),
	)

	withToken := func(scopes map[string]bool) context.Context {
		tok, _, err := signer.Sign("op-1", scopes)
		if err != nil {
			t.Fatal(err)
		}
		return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
	}

	t.Run("без токена", func(t *testing.T) {
		_, err := invoke(context.Background(), conn, "GetStatus", map[string]interface{}{})
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("ожидали Unauthenticated, получили %v", err)
		}
	})

	t.Run("только чтение не дает ставить задачи", func(t *testing.T) {
		ctx := withToken(map[string]bool{domain.ScopeTasksRead: true})
		if _, err := invoke(ctx, conn, "GetStatus", map[string]interface{}{}); err != nil {
			t.Errorf("GetStatus: %v", err)
		}
		_, err := invoke(ctx, conn, "SubmitTask", map[string]interface{}{"name": "x"})
		if status.Code(err) != codes.PermissionDenied {
			t.Errorf("ожидали PermissionDenied, получили %v", err)
		}
	})

	t.Run("узкое право на категорию", func(t *testing.T) {
		ctx := withToken(map[string]bool{domain.ScopeTasksSubmit + ".research": true})
		if _, err := invoke(ctx, conn, "SubmitTask", map[string]interface{}{"name": "x", "agent_type": "research"}); err != nil {
			t.Errorf("research разрешен: %v", err)
		}
		_, err := invoke(ctx, conn, "SubmitTask", map[string]interface{}{"name": "x", "agent_type": "code"})
		if status.Code(err) != codes.PermissionDenied {
			t.Errorf("code запрещен, получили %v", err)
		}
	})
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ExtractTraceID(r.Context())
	}))

	t.Run("берет ID из заголовка", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Trace-ID", "abc")
		h.ServeHTTP(rec, req)
		if seen != "abc" || rec.Header().Get("X-Trace-ID") != "abc" {
			t.Errorf("seen=%q header=%q", seen, rec.Header().Get("X-Trace-ID"))
		}
	})

	t.Run("генерирует новый", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if seen == "" || seen != rec.Header().Get("X-Trace-ID") {
			t.Errorf("seen=%q header=%q", seen, rec.Header().Get("X-Trace-ID"))
		}
	})

	t.Run("берет trace ID активного span", func(t *testing.T) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{0x0a, 0xf7, 0x65, 0x19, 0x16, 0xcd, 0x43, 0xdd, 0x84, 0x48, 0xeb, 0x21, 0x1c, 0x80, 0x31, 0x9c},
			SpanID:     trace.SpanID{0xb7, 0xad, 0x6b, 0x71, 0x69, 0x20, 0x33, 0x31},
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Trace-ID", "abc")
		req = req.WithContext(trace.ContextWithRemoteSpanContext(req.Context(), sc))
		h.ServeHTTP(rec, req)

		want := "0af7651916cd43dd8448eb211c80319c"
		if seen != want || rec.Header().Get("X-Trace-ID") != want {
			t.Errorf("seen=%q header=%q", seen, rec.Header().Get("X-Trace-ID"))
		}
	})
}
