package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls PrescriptionService and IngestionService over a gRPC
// connection, converting messages to and from their Struct wire form.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	req, err := toStruct(in)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s request: %v", method, err)
	}
	wire := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, req, wire, opts...); err != nil {
		return nil, err
	}
	out := new(Resp)
	if err := fromStruct(wire, out); err != nil {
		return nil, status.Errorf(codes.Internal, "decode %s response: %v", method, err)
	}
	return out, nil
}

func (c *Client) ExtractText(ctx context.Context, in *ExtractTextRequest, opts ...grpc.CallOption) (*ExtractTextResponse, error) {
	return invoke[ExtractTextResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/ExtractText", in, opts)
}

func (c *Client) ProcessDocument(ctx context.Context, in *ProcessDocumentRequest, opts ...grpc.CallOption) (*ProcessDocumentResponse, error) {
	return invoke[ProcessDocumentResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/ProcessDocument", in, opts)
}

func (c *Client) ListPrescriptions(ctx context.Context, in *ListPrescriptionsRequest, opts ...grpc.CallOption) (*ListPrescriptionsResponse, error) {
	return invoke[ListPrescriptionsResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/ListPrescriptions", in, opts)
}

func (c *Client) PrescriptionStats(ctx context.Context, in *PrescriptionStatsRequest, opts ...grpc.CallOption) (*PrescriptionStatsResponse, error) {
	return invoke[PrescriptionStatsResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/PrescriptionStats", in, opts)
}

func (c *Client) ExportPrescriptions(ctx context.Context, in *ExportPrescriptionsRequest, opts ...grpc.CallOption) (*ExportPrescriptionsResponse, error) {
	return invoke[ExportPrescriptionsResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/ExportPrescriptions", in, opts)
}

func (c *Client) PatientStats(ctx context.Context, in *PatientStatsRequest, opts ...grpc.CallOption) (*PatientStatsResponse, error) {
	return invoke[PatientStatsResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/PatientStats", in, opts)
}

func (c *Client) PrescriptionsByMonth(ctx context.Context, in *PrescriptionsByMonthRequest, opts ...grpc.CallOption) (*PrescriptionsByMonthResponse, error) {
	return invoke[PrescriptionsByMonthResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/PrescriptionsByMonth", in, opts)
}

func (c *Client) MedicationsByStatus(ctx context.Context, in *MedicationsByStatusRequest, opts ...grpc.CallOption) (*MedicationsByStatusResponse, error) {
	return invoke[MedicationsByStatusResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/MedicationsByStatus", in, opts)
}

func (c *Client) CommonMedications(ctx context.Context, in *CommonMedicationsRequest, opts ...grpc.CallOption) (*CommonMedicationsResponse, error) {
	return invoke[CommonMedicationsResponse](ctx, c.cc, "/"+PrescriptionServiceName+"/CommonMedications", in, opts)
}

func (c *Client) IngestDocument(ctx context.Context, in *IngestDocumentRequest, opts ...grpc.CallOption) (*IngestDocumentResponse, error) {
	return invoke[IngestDocumentResponse](ctx, c.cc, "/"+IngestionServiceName+"/IngestDocument", in, opts)
}

func (c *Client) IngestDirectory(ctx context.Context, in *IngestDirectoryRequest, opts ...grpc.CallOption) (*IngestDirectoryResponse, error) {
	return invoke[IngestDirectoryResponse](ctx, c.cc, "/"+IngestionServiceName+"/IngestDirectory", in, opts)
}
