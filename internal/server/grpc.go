package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
)

const (
	PrescriptionServiceName = servicePackage + ".PrescriptionService"
	IngestionServiceName    = servicePackage + ".IngestionService"

	requestIDHeader = "x-request-id"
)

// PrescriptionServiceServer is the server API for prescriptions.v1.PrescriptionService.
type PrescriptionServiceServer interface {
	ExtractText(context.Context, *ExtractTextRequest) (*ExtractTextResponse, error)
	ProcessDocument(context.Context, *ProcessDocumentRequest) (*ProcessDocumentResponse, error)
	ListPrescriptions(context.Context, *ListPrescriptionsRequest) (*ListPrescriptionsResponse, error)
	PrescriptionStats(context.Context, *PrescriptionStatsRequest) (*PrescriptionStatsResponse, error)
	ExportPrescriptions(context.Context, *ExportPrescriptionsRequest) (*ExportPrescriptionsResponse, error)
	PatientStats(context.Context, *PatientStatsRequest) (*PatientStatsResponse, error)
	PrescriptionsByMonth(context.Context, *PrescriptionsByMonthRequest) (*PrescriptionsByMonthResponse, error)
	MedicationsByStatus(context.Context, *MedicationsByStatusRequest) (*MedicationsByStatusResponse, error)
	CommonMedications(context.Context, *CommonMedicationsRequest) (*CommonMedicationsResponse, error)
}

// IngestionServiceServer is the server API for prescriptions.v1.IngestionService.
type IngestionServiceServer interface {
	IngestDocument(context.Context, *IngestDocumentRequest) (*IngestDocumentResponse, error)
	IngestDirectory(context.Context, *IngestDirectoryRequest) (*IngestDirectoryResponse, error)
}

var prescriptionServiceDesc = grpc.ServiceDesc{
	ServiceName: PrescriptionServiceName,
	HandlerType: (*PrescriptionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(PrescriptionServiceName, "ExtractText", PrescriptionServiceServer.ExtractText),
		unary(PrescriptionServiceName, "ProcessDocument", PrescriptionServiceServer.ProcessDocument),
		unary(PrescriptionServiceName, "ListPrescriptions", PrescriptionServiceServer.ListPrescriptions),
		unary(PrescriptionServiceName, "PrescriptionStats", PrescriptionServiceServer.PrescriptionStats),
		unary(PrescriptionServiceName, "ExportPrescriptions", PrescriptionServiceServer.ExportPrescriptions),
		unary(PrescriptionServiceName, "PatientStats", PrescriptionServiceServer.PatientStats),
		unary(PrescriptionServiceName, "PrescriptionsByMonth", PrescriptionServiceServer.PrescriptionsByMonth),
		unary(PrescriptionServiceName, "MedicationsByStatus", PrescriptionServiceServer.MedicationsByStatus),
		unary(PrescriptionServiceName, "CommonMedications", PrescriptionServiceServer.CommonMedications),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceProtoFile,
}

var ingestionServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestionServiceName,
	HandlerType: (*IngestionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(IngestionServiceName, "IngestDocument", IngestionServiceServer.IngestDocument),
		unary(IngestionServiceName, "IngestDirectory", IngestionServiceServer.IngestDirectory),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: serviceProtoFile,
}

func RegisterPrescriptionServiceServer(s grpc.ServiceRegistrar, srv PrescriptionServiceServer) {
	s.RegisterService(&prescriptionServiceDesc, srv)
}

func RegisterIngestionServiceServer(s grpc.ServiceRegistrar, srv IngestionServiceServer) {
	s.RegisterService(&ingestionServiceDesc, srv)
}

// unary builds a MethodDesc from an interface method expression. The request
// is decoded from its Struct form before the interceptor runs, and the
// response is encoded after it returns.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			wire := new(structpb.Struct)
			if err := dec(wire); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := fromStruct(wire, in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(srv.(S), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return out, nil
			}
			var (
				out any
				err error
			)
			if interceptor == nil {
				out, err = handler(ctx, in)
			} else {
				out, err = interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
			}
			if err != nil {
				return nil, err
			}
			resp, err := toStruct(out)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encode %s response: %v", method, err)
			}
			return resp, nil
		},
	}
}

// UnaryInterceptor tags the context with a request ID, logs each call and
// converts domain errors to gRPC statuses.
func UnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		reqID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get(requestIDHeader); len(v) > 0 {
				reqID = v[0]
			}
		}
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx = common.WithRequestID(ctx, reqID)

		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", reqID),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			err = common.ToStatus(err)
			code := common.Code(err)
			fields = append(fields, zap.String("code", code.String()), zap.Error(err))
			if code == codes.Internal {
				logger.Error("grpc call failed", fields...)
			} else {
				logger.Warn("grpc call rejected", fields...)
			}
			return nil, err
		}
		logger.Info("grpc call ok", fields...)
		return resp, nil
	}
}

// NewGRPCServer registers both services, the health service and reflection.
// A nil ingestion service leaves IngestionService unregistered.
func NewGRPCServer(svc PrescriptionServiceServer, ing IngestionServiceServer, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = zap.L()
	}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(UnaryInterceptor(logger))}, opts...)
	s := grpc.NewServer(opts...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(PrescriptionServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s)

	RegisterPrescriptionServiceServer(s, svc)
	if ing != nil {
		RegisterIngestionServiceServer(s, ing)
		hs.SetServingStatus(IngestionServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	return s, hs
}
