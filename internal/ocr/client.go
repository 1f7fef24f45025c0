// Package ocr extracts text from images through the OCR sidecar service.
package ocr

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/ashureev/smartfin/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ExtractTextMethod is the full gRPC method name served by the sidecar.
const ExtractTextMethod = "/ocr.v1.OCRService/ExtractText"

// DefaultMaxImageBytes is the image cap when none is configured.
const DefaultMaxImageBytes = 10 << 20

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// SupportedTypes lists the accepted image media types.
var SupportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/tiff": true,
	"image/bmp":  true,
}

// Image is an uploaded picture to run OCR on.
type Image struct {
	ContentType string
	Data        []byte
}

// Extractor turns an image into text.
type Extractor interface {
	ExtractText(ctx context.Context, img Image) (string, error)
}

// Config holds configuration for the gRPC client.
type Config struct {
	Address          string
	Language         string
	MaxImageBytes    int64
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended to the defaults; tests use them to dial
	// in-memory listeners.
	DialOptions []grpc.DialOption
}

// DefaultConfig returns default configuration for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Address:          addr,
		Language:         "por",
		MaxImageBytes:    DefaultMaxImageBytes,
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Client is a gRPC client to the OCR sidecar.
type Client struct {
	conn   *grpc.ClientConn
	cfg    Config
	logger *slog.Logger
}

// NewClient connects to the OCR sidecar and waits until the connection is
// ready so a bad address fails at startup.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to OCR service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("OCR service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to OCR service", "address", cfg.Address)
	return &Client{conn: conn, cfg: cfg, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// CheckImage enforces the type and size limits before any OCR work.
func CheckImage(img Image, maxBytes int64) error {
	mediaType, _, _ := mime.ParseMediaType(img.ContentType)
	if !SupportedTypes[mediaType] {
		sub := mediaType
		if _, s, ok := strings.Cut(mediaType, "/"); ok {
			sub = s
		}
		return domain.NewError(domain.KindUnsupportedFileType, fmt.Sprintf(
			"Unsupported file type: %s. Please upload a JPEG, PNG, TIFF or BMP image.", sub))
	}
	if int64(len(img.Data)) > maxBytes {
		return domain.NewError(domain.KindFileTooLarge,
			fmt.Sprintf("Max image size exceeded: %d MB.", maxBytes>>20))
	}
	if len(img.Data) == 0 {
		return domain.NewError(domain.KindInvalidInput, "The uploaded image is empty.")
	}
	return nil
}

// ExtractText runs OCR on an image.
func (c *Client) ExtractText(ctx context.Context, img Image) (string, error) {
	if err := CheckImage(img, c.cfg.MaxImageBytes); err != nil {
		return "", err
	}

	req, err := structpb.NewStruct(map[string]any{
		"image":        base64.StdEncoding.EncodeToString(img.Data),
		"content_type": img.ContentType,
		"lang":         c.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("build OCR request: %w", err)
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ExtractTextMethod, req, resp); err != nil {
		return "", mapError(err)
	}

	text := strings.TrimSpace(resp.GetFields()["text"].GetStringValue())
	if text == "" {
		return "", domain.NewError(domain.KindInvalidInput, "No text could be read from the image.")
	}
	c.logger.Debug("OCR extraction completed", "chars", len(text))
	return text, nil
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	st, ok := status.FromError(err)
	if ok && st.Code() == codes.InvalidArgument {
		return domain.WrapError(domain.KindInvalidInput, "The image could not be processed: "+st.Message(), err)
	}
	return domain.Unavailable(fmt.Errorf("ocr extract text: %w", err))
}
