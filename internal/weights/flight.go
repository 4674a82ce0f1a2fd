package weights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-gpt2/internal/config"
	"github.com/23skdu/longbow-gpt2/internal/logger"
	"github.com/23skdu/longbow-gpt2/internal/tensor"
)

const (
	// DefaultFlightAddr is where serve-weights listens by default.
	DefaultFlightAddr = "localhost:8815"

	// flightChunk bounds the values per record batch so that no single
	// gRPC message exceeds the default 4 MiB limit.
	flightChunk = 256 * 1024

	// ModelInfoAction returns the served model's shape and vocabulary.
	ModelInfoAction = "model-info"
)

var paramSchema = arrow.NewSchema([]arrow.Field{
	{Name: "value", Type: arrow.PrimitiveTypes.Float32},
}, nil)

// ticket is the JSON body of a DoGet ticket.
type ticket struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// ModelInfo describes the model behind a FlightServer so that clients need
// no local hparams.json or vocabulary.
type ModelInfo struct {
	HParams config.HParams `json:"hparams"`
	Eps     float32        `json:"eps,omitempty"`
	Tokens  []string       `json:"tokens,omitempty"`
}

// Apply copies the served shape into c.
func (m ModelInfo) Apply(c *config.Config) {
	m.HParams.Apply(c)
	if m.Eps > 0 {
		c.Eps = m.Eps
	}
}

// FlightServer exposes a Source over Arrow Flight. Each DoGet streams one
// parameter as float32 record batches; the model-info action returns Info.
type FlightServer struct {
	flight.BaseFlightServer
	Info *ModelInfo

	src   Source
	alloc memory.Allocator
	srv   flight.Server
}

func NewFlightServer(src Source) *FlightServer {
	return &FlightServer{src: src, alloc: memory.NewGoAllocator()}
}

// Start binds addr and serves in the background. Use Addr for the bound
// address when addr has port 0.
func (s *FlightServer) Start(addr string) error {
	s.srv = flight.NewServerWithMiddleware(nil)
	if err := s.srv.Init(addr); err != nil {
		return fmt.Errorf("flight listen %s: %w", addr, err)
	}
	s.srv.RegisterFlightService(s)
	go func() {
		if err := s.srv.Serve(); err != nil {
			logger.Log.Error("flight server stopped", "err", err)
		}
	}()
	logger.Log.Info("serving weights over flight", "addr", s.Addr().String())
	return nil
}

func (s *FlightServer) Addr() net.Addr {
	return s.srv.Addr()
}

func (s *FlightServer) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

func (s *FlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	var req ticket
	if err := json.Unmarshal(tkt.GetTicket(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "bad ticket: %v", err)
	}
	if err := tensor.ValidateShape(req.Shape); err != nil {
		return status.Errorf(codes.InvalidArgument, "%s: %v", req.Name, err)
	}
	data, err := s.src.Load(stream.Context(), req.Name, req.Shape)
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Errorf(codes.NotFound, "%v", err)
	case errors.Is(err, tensor.ErrShapeMismatch):
		return status.Errorf(codes.FailedPrecondition, "%v", err)
	case err != nil:
		return status.Errorf(codes.Internal, "%v", err)
	}
	logger.Log.Debug("flight DoGet", "name", req.Name, "values", len(data))

	w := flight.NewRecordWriter(stream, ipc.WithSchema(paramSchema), ipc.WithAllocator(s.alloc))
	defer w.Close()

	b := array.NewFloat32Builder(s.alloc)
	defer b.Release()
	for off := 0; off < len(data); off += flightChunk {
		end := min(off+flightChunk, len(data))
		b.AppendValues(data[off:end], nil)
		col := b.NewArray()
		rec := array.NewRecord(paramSchema, []arrow.Array{col}, int64(end-off))
		err := w.Write(rec)
		rec.Release()
		col.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *FlightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	if action.GetType() != ModelInfoAction {
		return status.Errorf(codes.Unimplemented, "unknown action %q", action.GetType())
	}
	if s.Info == nil {
		return status.Error(codes.NotFound, "no model info")
	}
	body, err := json.Marshal(s.Info)
	if err != nil {
		return status.Errorf(codes.Internal, "%v", err)
	}
	return stream.Send(&flight.Result{Body: body})
}

// FlightSource fetches parameters from a FlightServer.
type FlightSource struct {
	client flight.Client
}

// DialFlight connects to addr, which may carry a grpc:// prefix.
func DialFlight(addr string) (*FlightSource, error) {
	addr = strings.TrimPrefix(addr, "grpc://")
	client, err := flight.NewClientWithMiddleware(addr, nil, nil, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client: %w", err)
	}
	return &FlightSource{client: client}, nil
}

func (s *FlightSource) Close() error {
	return s.client.Close()
}

// Info asks the server for its model shape and vocabulary. A server that
// was started without one answers ErrNotFound.
func (s *FlightSource) Info(ctx context.Context) (*ModelInfo, error) {
	stream, err := s.client.DoAction(ctx, &flight.Action{Type: ModelInfoAction})
	if err != nil {
		return nil, fromStatus(ModelInfoAction, err)
	}
	res, err := stream.Recv()
	if err != nil {
		return nil, fromStatus(ModelInfoAction, err)
	}
	var info ModelInfo
	if err := json.Unmarshal(res.GetBody(), &info); err != nil {
		return nil, fmt.Errorf("flight %s: %w", ModelInfoAction, err)
	}
	if err := flight.ReadUntilEOF(stream); err != nil {
		return nil, fromStatus(ModelInfoAction, err)
	}
	return &info, nil
}

func (s *FlightSource) Load(ctx context.Context, name string, shape []int) ([]float32, error) {
	body, err := json.Marshal(ticket{Name: name, Shape: shape})
	if err != nil {
		return nil, err
	}
	stream, err := s.client.DoGet(ctx, &flight.Ticket{Ticket: body})
	if err != nil {
		return nil, fmt.Errorf("flight DoGet %s: %w", name, err)
	}
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, fromStatus(name, err)
	}
	defer rdr.Release()

	out := make([]float32, 0, tensor.Size(shape))
	for rdr.Next() {
		col, ok := rdr.Record().Column(0).(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("flight %s: unexpected column type %s", name, rdr.Record().Column(0).DataType())
		}
		out = append(out, col.Float32Values()...)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fromStatus(name, err)
	}
	if err := checkLen(name, shape, len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStatus(name string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("flight %s: %w", name, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("flight %s: %s: %w", name, st.Message(), ErrNotFound)
	case codes.FailedPrecondition:
		return fmt.Errorf("flight %s: %s: %w", name, st.Message(), tensor.ErrShapeMismatch)
	default:
		return fmt.Errorf("flight %s: %w", name, err)
	}
}
