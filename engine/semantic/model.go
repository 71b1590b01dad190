package semantic

import (
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/WessleyAI/leadsignal/engine/domain"
)

// Payload keys stored with every point.
const (
	keyItemID      = "item_id"
	keySourceID    = "source_id"
	keyAuthor      = "author"
	keyTitle       = "title"
	keyPermalink   = "permalink"
	keyCreatedAt   = "created_at"
	keyScore       = "score"
	keyNumComments = "num_comments"
)

// pointNamespace seeds deterministic point IDs so re-indexing an item
// overwrites its point instead of adding a second one.
var pointNamespace = uuid.MustParse("6f1c8d2e-3b4a-5c6d-8e7f-9a0b1c2d3e4f")

// PointID returns the Qdrant point ID for an item.
func PointID(itemID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(itemID)).String()
}

func payloadFor(it domain.DiscoveredItem) map[string]*pb.Value {
	return map[string]*pb.Value{
		keyItemID:      stringValue(it.ID),
		keySourceID:    stringValue(it.SourceID),
		keyAuthor:      stringValue(it.Author),
		keyTitle:       stringValue(it.Title),
		keyPermalink:   stringValue(it.Permalink),
		keyCreatedAt:   intValue(it.CreatedAt.Unix()),
		keyScore:       intValue(int64(it.Score)),
		keyNumComments: intValue(int64(it.NumComments)),
	}
}

// itemFromPayload rebuilds the indexed fields of an item. Body is not stored
// in the index.
func itemFromPayload(p map[string]*pb.Value) domain.DiscoveredItem {
	return domain.DiscoveredItem{
		ID:          p[keyItemID].GetStringValue(),
		SourceID:    p[keySourceID].GetStringValue(),
		Author:      p[keyAuthor].GetStringValue(),
		Title:       p[keyTitle].GetStringValue(),
		Permalink:   p[keyPermalink].GetStringValue(),
		CreatedAt:   time.Unix(p[keyCreatedAt].GetIntegerValue(), 0).UTC(),
		Score:       int(p[keyScore].GetIntegerValue()),
		NumComments: int(p[keyNumComments].GetIntegerValue()),
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}
