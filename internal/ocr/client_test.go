package ocr

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"

	"github.com/ashureev/smartfin/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type ocrServer interface {
	ExtractText(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var testServiceDesc = grpc.ServiceDesc{
	ServiceName: "ocr.v1.OCRService",
	HandlerType: (*ocrServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "ExtractText",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(ocrServer).ExtractText(ctx, in)
		},
	}},
}

type fakeOCR struct {
	lastLang string
	lastType string
	text     string
}

func (f *fakeOCR) ExtractText(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	raw, err := base64.StdEncoding.DecodeString(fields["image"].GetStringValue())
	if err != nil || len(raw) == 0 {
		return nil, status.Error(codes.InvalidArgument, "bad image")
	}
	f.lastLang = fields["lang"].GetStringValue()
	f.lastType = fields["content_type"].GetStringValue()
	return structpb.NewStruct(map[string]any{"text": f.text})
}

func startServer(t *testing.T, impl ocrServer) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&testServiceDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cfg := DefaultConfig("passthrough:///bufnet")
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	client, err := NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestClient_ExtractText(t *testing.T) {
	srv := &fakeOCR{text: "  NOTA FISCAL 123\n"}
	client := startServer(t, srv)

	text, err := client.ExtractText(context.Background(), Image{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}
	if text != "NOTA FISCAL 123" {
		t.Errorf("Unexpected text %q", text)
	}
	if srv.lastLang != "por" || srv.lastType != "image/png" {
		t.Errorf("Unexpected request fields lang=%q type=%q", srv.lastLang, srv.lastType)
	}
}

func TestClient_EmptyTextIsClientError(t *testing.T) {
	client := startServer(t, &fakeOCR{text: "   "})

	_, err := client.ExtractText(context.Background(), Image{ContentType: "image/jpeg", Data: []byte{1}})
	if domain.KindOf(err) != domain.KindInvalidInput {
		t.Fatalf("Expected invalid input, got %v", err)
	}
}

func TestCheckImage(t *testing.T) {
	tests := []struct {
		name string
		img  Image
		want domain.Kind
		ok   bool
	}{
		{"png", Image{ContentType: "image/png", Data: []byte{1}}, 0, true},
		{"gif rejected", Image{ContentType: "image/gif", Data: []byte{1}}, domain.KindUnsupportedFileType, false},
		{"too large", Image{ContentType: "image/jpeg", Data: make([]byte, 11)}, domain.KindFileTooLarge, false},
		{"empty", Image{ContentType: "image/bmp"}, domain.KindInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckImage(tt.img, 10)
			if tt.ok {
				if err != nil {
					t.Fatalf("Expected ok, got %v", err)
				}
				return
			}
			if domain.KindOf(err) != tt.want {
				t.Fatalf("Expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestMapErrorHidesDiagnostics(t *testing.T) {
	err := mapError(status.Error(codes.Unavailable, "connection refused to 10.0.0.3"))
	var derr *domain.Error
	if !strings.Contains(err.Error(), "10.0.0.3") {
		t.Fatal("cause should be kept for logs")
	}
	if domain.KindOf(err) != domain.KindCollaboratorUnavailable {
		t.Fatalf("Expected unavailable, got %v", err)
	}
	derr = err.(*domain.Error)
	if strings.Contains(derr.Message, "10.0.0.3") {
		t.Error("client message leaks provider diagnostics")
	}
}
