package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/dpup/prefab/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/genproto/googleapis/api/httpbody"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/cache"
)

// ProtobufContentType is served for binary feeds
const ProtobufContentType = "application/x-protobuf"

// FeedServiceServer serves the latest assembled feed
type FeedServiceServer interface {
	GetFeed(context.Context, *emptypb.Empty) (*gtfs.FeedMessage, error)
	GetFeedBody(context.Context, *emptypb.Empty) (*httpbody.HttpBody, error)
}

// FeedService implements FeedServiceServer and the HTTP feed endpoints on top of the
// snapshot cache filled by the runner
type FeedService struct {
	cache *cache.Cache
	json  runtime.Marshaler
	pbf   runtime.Marshaler
}

// NewFeedService creates a new FeedService
func NewFeedService(snapshots *cache.Cache) *FeedService {
	return &FeedService{
		cache: snapshots,
		json: &runtime.JSONPb{
			MarshalOptions: protojson.MarshalOptions{UseProtoNames: true},
		},
		pbf: &runtime.ProtoMarshaller{},
	}
}

// latest returns the cached feed; a missing snapshot means no pass has completed yet
func (s *FeedService) latest(ctx context.Context) (*gtfs.FeedMessage, *cache.Entry, error) {
	msg := new(gtfs.FeedMessage)
	entry, found, err := s.cache.GetWithMetadata(SnapshotKey, msg)
	if err != nil {
		return nil, nil, status.Errorf(codes.Internal, "failed to read feed snapshot: %v", err)
	}
	if !found {
		return nil, nil, status.Error(codes.Unavailable, "no feed available yet")
	}
	switch {
	case s.cache.IsVeryStale(SnapshotKey):
		logging.Errorw(ctx, "FeedService: serving very stale feed, passes are failing",
			"created_at", entry.CreatedAt, "refresh_interval", entry.RefreshInterval.String())
	case s.cache.IsStale(SnapshotKey):
		logging.Warnw(ctx, "FeedService: serving stale feed", "created_at", entry.CreatedAt)
	}
	return msg, entry, nil
}

// GetFeed returns the latest FULL_DATASET feed
func (s *FeedService) GetFeed(ctx context.Context, _ *emptypb.Empty) (*gtfs.FeedMessage, error) {
	msg, _, err := s.latest(ctx)
	return msg, err
}

// GetFeedBody returns the latest feed in binary protobuf encoding
func (s *FeedService) GetFeedBody(ctx context.Context, _ *emptypb.Empty) (*httpbody.HttpBody, error) {
	msg, _, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to marshal feed: %v", err)
	}
	return &httpbody.HttpBody{ContentType: ProtobufContentType, Data: data}, nil
}

// HandleProtobuf serves GET /alerts.pbf
func (s *FeedService) HandleProtobuf(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.pbf, ProtobufContentType)
}

// HandleJSON serves GET /alerts.json
func (s *FeedService) HandleJSON(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, s.json, "application/json")
}

func (s *FeedService) serve(w http.ResponseWriter, r *http.Request, m runtime.Marshaler, contentType string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg, entry, err := s.latest(r.Context())
	if err != nil {
		code := http.StatusInternalServerError
		if status.Code(err) == codes.Unavailable {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, status.Convert(err).Message(), code)
		return
	}

	data, err := m.Marshal(msg)
	if err != nil {
		logging.Errorw(r.Context(), "FeedService: failed to marshal feed", "error", err)
		http.Error(w, "failed to marshal feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Last-Modified", entry.CreatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "max-age="+maxAge(entry))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(data)
	}
}

// FeedStatus describes the snapshot behind the feed endpoints
type FeedStatus struct {
	Available bool        `json:"available"`
	CreatedAt *time.Time  `json:"created_at,omitempty"`
	Stale     bool        `json:"stale"`
	VeryStale bool        `json:"very_stale"`
	Snapshots cache.Stats `json:"snapshots"`
}

// Status reports the age of the latest feed snapshot
func (s *FeedService) Status() FeedStatus {
	st := FeedStatus{
		Stale:     s.cache.IsStale(SnapshotKey),
		VeryStale: s.cache.IsVeryStale(SnapshotKey),
		Snapshots: s.cache.Stats(),
	}
	if entry, found, err := s.cache.GetWithMetadata(SnapshotKey, nil); err == nil && found {
		createdAt := entry.CreatedAt
		st.Available = true
		st.CreatedAt = &createdAt
	}
	return st
}

// HandleStatus serves GET /status
func (s *FeedService) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		logging.Errorw(r.Context(), "FeedService: failed to write status", "error", err)
	}
}

func maxAge(entry *cache.Entry) string {
	remaining := int64(time.Until(entry.ExpiresAt).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return strconv.FormatInt(remaining, 10)
}

// FeedService_ServiceDesc describes gtfsincidentalerts.v1.FeedService
var FeedService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "gtfsincidentalerts.v1.FeedService",
	HandlerType: (*FeedServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetFeed",
			Handler:    _FeedService_GetFeed_Handler,
		},
		{
			MethodName: "GetFeedBody",
			Handler:    _FeedService_GetFeedBody_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gtfsincidentalerts/v1/feed.proto",
}

// RegisterFeedServiceServer registers srv with s
func RegisterFeedServiceServer(s grpc.ServiceRegistrar, srv FeedServiceServer) {
	s.RegisterService(&FeedService_ServiceDesc, srv)
}

func _FeedService_GetFeed_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServiceServer).GetFeed(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/gtfsincidentalerts.v1.FeedService/GetFeed",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeedServiceServer).GetFeed(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func _FeedService_GetFeedBody_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServiceServer).GetFeedBody(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/gtfsincidentalerts.v1.FeedService/GetFeedBody",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FeedServiceServer).GetFeedBody(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
