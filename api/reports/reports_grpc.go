package reports

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "reports.v1.ReportService"

const (
	GetSessionFullMethodName     = "/" + ServiceName + "/GetSession"
	SingleUploadFullMethodName   = "/" + ServiceName + "/SingleUpload"
	SetStatusFullMethodName      = "/" + ServiceName + "/SetStatus"
	ReportStatusFullMethodName   = "/" + ServiceName + "/ReportStatus"
	RecallReportsFullMethodName  = "/" + ServiceName + "/RecallReports"
	BatchRequestFullMethodName   = "/" + ServiceName + "/BatchRequest"
	BatchDownloadFullMethodName  = "/" + ServiceName + "/BatchDownload"
	ReportDownloadFullMethodName = "/" + ServiceName + "/ReportDownload"
	SendEmailFullMethodName      = "/" + ServiceName + "/SendEmail"
)

type (
	SingleUploadClient = grpc.ClientStreamingClient[UploadChunk, SingleUploadResponse]
	SingleUploadServer = grpc.ClientStreamingServer[UploadChunk, SingleUploadResponse]
)

type ReportServiceClient interface {
	GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error)
	SingleUpload(ctx context.Context, opts ...grpc.CallOption) (SingleUploadClient, error)
	SetStatus(ctx context.Context, in *SetStatusRequest, opts ...grpc.CallOption) (*SetStatusResponse, error)
	ReportStatus(ctx context.Context, in *ReportStatusRequest, opts ...grpc.CallOption) (*ReportStatusResponse, error)
	RecallReports(ctx context.Context, in *RecallReportsRequest, opts ...grpc.CallOption) (*RecallReportsResponse, error)
	BatchRequest(ctx context.Context, in *BatchRequestRequest, opts ...grpc.CallOption) (*BatchRequestResponse, error)
	BatchDownload(ctx context.Context, in *BatchDownloadRequest, opts ...grpc.CallOption) (*BatchDownloadResponse, error)
	ReportDownload(ctx context.Context, in *ReportDownloadRequest, opts ...grpc.CallOption) (*ReportDownloadResponse, error)
	SendEmail(ctx context.Context, in *SendEmailRequest, opts ...grpc.CallOption) (*SendEmailResponse, error)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient returns a client whose calls use the JSON codec.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.StaticMethod(), grpc.CallContentSubtype(CodecName)}, opts...)
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *reportServiceClient) GetSession(ctx context.Context, in *GetSessionRequest, opts ...grpc.CallOption) (*GetSessionResponse, error) {
	return invoke[GetSessionResponse](ctx, c.cc, GetSessionFullMethodName, in, opts)
}

func (c *reportServiceClient) SingleUpload(ctx context.Context, opts ...grpc.CallOption) (SingleUploadClient, error) {
	stream, err := c.cc.NewStream(ctx, &ReportService_ServiceDesc.Streams[0], SingleUploadFullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadChunk, SingleUploadResponse]{ClientStream: stream}, nil
}

func (c *reportServiceClient) SetStatus(ctx context.Context, in *SetStatusRequest, opts ...grpc.CallOption) (*SetStatusResponse, error) {
	return invoke[SetStatusResponse](ctx, c.cc, SetStatusFullMethodName, in, opts)
}

func (c *reportServiceClient) ReportStatus(ctx context.Context, in *ReportStatusRequest, opts ...grpc.CallOption) (*ReportStatusResponse, error) {
	return invoke[ReportStatusResponse](ctx, c.cc, ReportStatusFullMethodName, in, opts)
}

func (c *reportServiceClient) RecallReports(ctx context.Context, in *RecallReportsRequest, opts ...grpc.CallOption) (*RecallReportsResponse, error) {
	return invoke[RecallReportsResponse](ctx, c.cc, RecallReportsFullMethodName, in, opts)
}

func (c *reportServiceClient) BatchRequest(ctx context.Context, in *BatchRequestRequest, opts ...grpc.CallOption) (*BatchRequestResponse, error) {
	return invoke[BatchRequestResponse](ctx, c.cc, BatchRequestFullMethodName, in, opts)
}

func (c *reportServiceClient) BatchDownload(ctx context.Context, in *BatchDownloadRequest, opts ...grpc.CallOption) (*BatchDownloadResponse, error) {
	return invoke[BatchDownloadResponse](ctx, c.cc, BatchDownloadFullMethodName, in, opts)
}

func (c *reportServiceClient) ReportDownload(ctx context.Context, in *ReportDownloadRequest, opts ...grpc.CallOption) (*ReportDownloadResponse, error) {
	return invoke[ReportDownloadResponse](ctx, c.cc, ReportDownloadFullMethodName, in, opts)
}

func (c *reportServiceClient) SendEmail(ctx context.Context, in *SendEmailRequest, opts ...grpc.CallOption) (*SendEmailResponse, error) {
	return invoke[SendEmailResponse](ctx, c.cc, SendEmailFullMethodName, in, opts)
}

type ReportServiceServer interface {
	GetSession(context.Context, *GetSessionRequest) (*GetSessionResponse, error)
	SingleUpload(SingleUploadServer) error
	SetStatus(context.Context, *SetStatusRequest) (*SetStatusResponse, error)
	ReportStatus(context.Context, *ReportStatusRequest) (*ReportStatusResponse, error)
	RecallReports(context.Context, *RecallReportsRequest) (*RecallReportsResponse, error)
	BatchRequest(context.Context, *BatchRequestRequest) (*BatchRequestResponse, error)
	BatchDownload(context.Context, *BatchDownloadRequest) (*BatchDownloadResponse, error)
	ReportDownload(context.Context, *ReportDownloadRequest) (*ReportDownloadResponse, error)
	SendEmail(context.Context, *SendEmailRequest) (*SendEmailResponse, error)
}

func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&ReportService_ServiceDesc, srv)
}

// unary adapts a typed server method to grpc.MethodHandler.
func unary[Req any, Resp any](method string, call func(ReportServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReportServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReportServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func singleUploadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(ReportServiceServer).SingleUpload(&grpc.GenericServerStream[UploadChunk, SingleUploadResponse]{ServerStream: stream})
}

var ReportService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSession", Handler: unary(GetSessionFullMethodName, ReportServiceServer.GetSession)},
		{MethodName: "SetStatus", Handler: unary(SetStatusFullMethodName, ReportServiceServer.SetStatus)},
		{MethodName: "ReportStatus", Handler: unary(ReportStatusFullMethodName, ReportServiceServer.ReportStatus)},
		{MethodName: "RecallReports", Handler: unary(RecallReportsFullMethodName, ReportServiceServer.RecallReports)},
		{MethodName: "BatchRequest", Handler: unary(BatchRequestFullMethodName, ReportServiceServer.BatchRequest)},
		{MethodName: "BatchDownload", Handler: unary(BatchDownloadFullMethodName, ReportServiceServer.BatchDownload)},
		{MethodName: "ReportDownload", Handler: unary(ReportDownloadFullMethodName, ReportServiceServer.ReportDownload)},
		{MethodName: "SendEmail", Handler: unary(SendEmailFullMethodName, ReportServiceServer.SendEmail)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SingleUpload", Handler: singleUploadHandler, ClientStreams: true},
	},
	Metadata: "reports/reports.go",
}
