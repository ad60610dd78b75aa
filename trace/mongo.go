package trace

import (
	"context"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
)

const (
	tracesCollection = "acpcore_traces"
	defaultOpTimeout = 5 * time.Second
)

// recordDocument is the bson shape one Record is stored as. Tool and
// Conversation are flattened inline rather than kept as nested pointer
// structs so a partial record (e.g. tool_call with no conversation half)
// omits the unused fields entirely.
type recordDocument struct {
	SessionID   string    `bson:"session_id"`
	Type        string    `bson:"type"`
	Contributor string    `bson:"contributor"`
	Timestamp   time.Time `bson:"timestamp"`

	ToolCallID string `bson:"tool_call_id,omitempty"`
	ToolName   string `bson:"tool_name,omitempty"`
	ToolInput  any    `bson:"tool_input,omitempty"`
	ToolOutput any    `bson:"tool_output,omitempty"`
	ToolStatus string `bson:"tool_status,omitempty"`

	ConversationRole string `bson:"conversation_role,omitempty"`
	ConversationText string `bson:"conversation_text,omitempty"`

	VCSBranch string `bson:"vcs_branch,omitempty"`
	VCSDirty  bool   `bson:"vcs_dirty,omitempty"`

	Files []string `bson:"files,omitempty"`
}

func fromRecord(rec Record) recordDocument {
	doc := recordDocument{
		SessionID:   rec.SessionID,
		Type:        string(rec.Type),
		Contributor: rec.Contributor,
		Timestamp:   rec.Timestamp.UTC(),
	}
	if rec.Tool != nil {
		doc.ToolCallID = rec.Tool.ToolCallID
		doc.ToolName = rec.Tool.ToolName
		doc.ToolInput = rec.Tool.Input
		doc.ToolOutput = rec.Tool.Output
		doc.ToolStatus = string(rec.Tool.Status)
	}
	if rec.Conversation != nil {
		doc.ConversationRole = rec.Conversation.Role
		doc.ConversationText = rec.Conversation.Text
	}
	if rec.VCS != nil {
		doc.VCSBranch = rec.VCS.Branch
		doc.VCSDirty = rec.VCS.Dirty
	}
	for _, f := range rec.Files {
		doc.Files = append(doc.Files, f.Path)
	}
	return doc
}

// MongoJournal is a Journal backed by MongoDB: one document per trace
// record, append-only.
type MongoJournal struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

// NewMongoJournal constructs a MongoJournal writing into database's
// acpcore_traces collection.
func NewMongoJournal(db *mongodriver.Database, timeout time.Duration) *MongoJournal {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &MongoJournal{coll: db.Collection(tracesCollection), timeout: timeout}
}

func (j *MongoJournal) Record(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	_, err := j.coll.InsertOne(ctx, fromRecord(rec))
	return err
}

var _ Journal = (*MongoJournal)(nil)
