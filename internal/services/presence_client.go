package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"workledger/go-backend/internal/models"
)

const presenceSnapshotsMethod = "/workledger.presence.v1.PresenceProvider/GetSnapshots"

// PresenceClient talks to the external presence provider over gRPC.
// The provider exchanges loosely typed documents, so requests and
// responses travel as structpb values invoked by full method name.
type PresenceClient struct {
	conn *grpc.ClientConn
	url  string
}

func NewPresenceClient(url string) (*PresenceClient, error) {
	log.Printf("Connecting to presence provider at %s", url)

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.Dial(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to presence provider at %s: %w", url, err)
	}

	return &PresenceClient{conn: conn, url: url}, nil
}

// Snapshots fetches the current availability of the given users.
func (pc *PresenceClient) Snapshots(ctx context.Context, userIDs []uuid.UUID) ([]models.UserPresence, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ids := make([]any, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id.String())
	}
	req, err := structpb.NewStruct(map[string]any{})
	if err != nil {
		return nil, err
	}
	idList, err := structpb.NewList(ids)
	if err != nil {
		return nil, err
	}
	req.Fields["user_ids"] = structpb.NewListValue(idList)

	resp := &structpb.Struct{}
	if err := pc.conn.Invoke(ctx, presenceSnapshotsMethod, req, resp); err != nil {
		return nil, fmt.Errorf("could not fetch presence snapshots: %w", err)
	}

	return parseSnapshots(resp)
}

func parseSnapshots(resp *structpb.Struct) ([]models.UserPresence, error) {
	field, ok := resp.Fields["snapshots"]
	if !ok {
		return nil, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("presence response: snapshots is not a list")
	}

	snapshots := make([]models.UserPresence, 0, len(list.Values))
	for _, v := range list.Values {
		entry := v.GetStructValue()
		if entry == nil {
			continue
		}
		userID, err := uuid.Parse(entry.Fields["user_id"].GetStringValue())
		if err != nil {
			log.Printf("presence response: bad user_id %q: %v", entry.Fields["user_id"].GetStringValue(), err)
			continue
		}
		status := models.PresenceStatus(entry.Fields["status"].GetStringValue())
		if status == "" {
			status = models.PresenceUnknown
		}
		snapshots = append(snapshots, models.UserPresence{
			UserID: userID,
			Status: status,
		})
	}
	return snapshots, nil
}

func (pc *PresenceClient) HealthCheck() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := structpb.NewStruct(map[string]any{})
	resp := &structpb.Struct{}
	return pc.conn.Invoke(ctx, "/workledger.presence.v1.PresenceProvider/Health", req, resp) == nil
}

func (pc *PresenceClient) Close() error {
	if pc.conn != nil {
		return pc.conn.Close()
	}
	return nil
}
