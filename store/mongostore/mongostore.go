// Package mongostore implements store.Store backed by MongoDB, following the
// teacher's features/run/mongo client pattern: a thin wrapper struct and
// bson-tagged document types. It uses the driver's *mongo.Database directly;
// there is no collection interface to substitute in tests.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/subluminal-labs/acpcore/store"
)

const defaultOpTimeout = 5 * time.Second

const (
	sessionsCollection   = "acpcore_sessions"
	historyCollection    = "acpcore_history"
	tasksCollection      = "acpcore_tasks"
	workspacesCollection = "acpcore_workspaces"
	notesCollection      = "acpcore_notes"
)

// Store implements store.Store against a MongoDB database.
type Store struct {
	db      *mongodriver.Database
	timeout time.Duration
}

// Options configures a mongostore.Store.
type Options struct {
	Client   *mongodriver.Client
	Database string
	Timeout  time.Duration
}

// New constructs a Store and ensures its indexes exist.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	s := &Store{db: opts.Client.Database(opts.Database), timeout: timeout}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Collection(sessionsCollection).Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.db.Collection(historyCollection).Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}},
	})
	if err != nil {
		return err
	}
	_, err = s.db.Collection(tasksCollection).Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "task_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

type sessionDocument struct {
	SessionID          string    `bson:"session_id"`
	WorkspaceID        string    `bson:"workspace_id"`
	Cwd                string    `bson:"cwd"`
	Provider           string    `bson:"provider"`
	Role               string    `bson:"role"`
	PresetID           string    `bson:"preset_id,omitempty"`
	ParentSessionID    string    `bson:"parent_session_id,omitempty"`
	CreatedAt          time.Time `bson:"created_at"`
	FirstPromptSent    bool      `bson:"first_prompt_sent"`
	SystemPromptHeader string    `bson:"system_prompt_header,omitempty"`
}

func fromSessionRecord(r store.SessionRecord) sessionDocument {
	return sessionDocument{
		SessionID:          r.ID,
		WorkspaceID:        r.WorkspaceID,
		Cwd:                r.Cwd,
		Provider:           r.Provider,
		Role:               r.Role,
		PresetID:           r.PresetID,
		ParentSessionID:    r.ParentSessionID,
		CreatedAt:          r.CreatedAt.UTC(),
		FirstPromptSent:    r.FirstPromptSent,
		SystemPromptHeader: r.SystemPromptHeader,
	}
}

func (d sessionDocument) toRecord() store.SessionRecord {
	return store.SessionRecord{
		ID:                 d.SessionID,
		WorkspaceID:        d.WorkspaceID,
		Cwd:                d.Cwd,
		Provider:           d.Provider,
		Role:               d.Role,
		PresetID:           d.PresetID,
		ParentSessionID:    d.ParentSessionID,
		CreatedAt:          d.CreatedAt,
		FirstPromptSent:    d.FirstPromptSent,
		SystemPromptHeader: d.SystemPromptHeader,
	}
}

func (s *Store) SaveSession(ctx context.Context, rec store.SessionRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"session_id": rec.ID}
	update := bson.M{"$set": fromSessionRecord(rec)}
	_, err := s.db.Collection(sessionsCollection).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.db.Collection(sessionsCollection).DeleteOne(ctx, bson.M{"session_id": id}); err != nil {
		return err
	}
	_, err := s.db.Collection(historyCollection).DeleteMany(ctx, bson.M{"session_id": id})
	return err
}

func (s *Store) RenameSession(ctx context.Context, id, title string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Collection(sessionsCollection).UpdateOne(ctx,
		bson.M{"session_id": id},
		bson.M{"$set": bson.M{"system_prompt_header": title}})
	return err
}

func (s *Store) ListSessions(ctx context.Context, workspaceID string) ([]store.SessionRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{}
	if workspaceID != "" {
		filter["workspace_id"] = workspaceID
	}
	cur, err := s.db.Collection(sessionsCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []sessionDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.SessionRecord, len(docs))
	for i, d := range docs {
		out[i] = d.toRecord()
	}
	return out, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (store.SessionRecord, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDocument
	err := s.db.Collection(sessionsCollection).FindOne(ctx, bson.M{"session_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.SessionRecord{}, false, nil
	}
	if err != nil {
		return store.SessionRecord{}, false, err
	}
	return doc.toRecord(), true, nil
}

type historyDocument struct {
	SessionID string    `bson:"session_id"`
	Sequence  int       `bson:"sequence"`
	UpdateRaw []byte    `bson:"update_raw"`
	CreatedAt time.Time `bson:"created_at"`
}

func (s *Store) SaveHistory(ctx context.Context, rec store.HistoryRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := historyDocument{SessionID: rec.SessionID, Sequence: rec.Sequence, UpdateRaw: rec.UpdateRaw, CreatedAt: rec.CreatedAt.UTC()}
	_, err := s.db.Collection(historyCollection).InsertOne(ctx, doc)
	return err
}

func (s *Store) LoadHistory(ctx context.Context, sessionID string) ([]store.HistoryRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.db.Collection(historyCollection).Find(ctx,
		bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []historyDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.HistoryRecord, len(docs))
	for i, d := range docs {
		out[i] = store.HistoryRecord{SessionID: d.SessionID, Sequence: d.Sequence, UpdateRaw: d.UpdateRaw, CreatedAt: d.CreatedAt}
	}
	return out, nil
}

type taskDocument struct {
	TaskID          string    `bson:"task_id"`
	WorkspaceID     string    `bson:"workspace_id"`
	TargetAgent     string    `bson:"target_agent"`
	Prompt          string    `bson:"prompt"`
	Status          string    `bson:"status"`
	ResultSessionID string    `bson:"result_session_id,omitempty"`
	Error           string    `bson:"error,omitempty"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
	ToolCallCount   int       `bson:"tool_call_count"`
	InputTokens     int64     `bson:"input_tokens"`
	OutputTokens    int64     `bson:"output_tokens"`
	CurrentActivity string    `bson:"current_activity,omitempty"`
	LastActivityAt  time.Time `bson:"last_activity_at"`
}

func fromTask(t store.BackgroundTask) taskDocument {
	return taskDocument{
		TaskID:          t.ID,
		WorkspaceID:     t.WorkspaceID,
		TargetAgent:     t.TargetAgent,
		Prompt:          t.Prompt,
		Status:          string(t.Status),
		ResultSessionID: t.ResultSessionID,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt.UTC(),
		UpdatedAt:       t.UpdatedAt.UTC(),
		ToolCallCount:   t.ToolCallCount,
		InputTokens:     t.InputTokens,
		OutputTokens:    t.OutputTokens,
		CurrentActivity: t.CurrentActivity,
		LastActivityAt:  t.LastActivityAt.UTC(),
	}
}

func (d taskDocument) toTask() store.BackgroundTask {
	return store.BackgroundTask{
		ID:              d.TaskID,
		WorkspaceID:     d.WorkspaceID,
		TargetAgent:     d.TargetAgent,
		Prompt:          d.Prompt,
		Status:          store.TaskStatus(d.Status),
		ResultSessionID: d.ResultSessionID,
		Error:           d.Error,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ToolCallCount:   d.ToolCallCount,
		InputTokens:     d.InputTokens,
		OutputTokens:    d.OutputTokens,
		CurrentActivity: d.CurrentActivity,
		LastActivityAt:  d.LastActivityAt,
	}
}

func (s *Store) SaveTask(ctx context.Context, task store.BackgroundTask) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"task_id": task.ID}
	update := bson.M{"$set": fromTask(task)}
	_, err := s.db.Collection(tasksCollection).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Store) ListTasks(ctx context.Context, workspaceID string) ([]store.BackgroundTask, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{}
	if workspaceID != "" {
		filter["workspace_id"] = workspaceID
	}
	cur, err := s.db.Collection(tasksCollection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []taskDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.BackgroundTask, len(docs))
	for i, d := range docs {
		out[i] = d.toTask()
	}
	return out, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (store.BackgroundTask, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc taskDocument
	err := s.db.Collection(tasksCollection).FindOne(ctx, bson.M{"task_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.BackgroundTask{}, false, nil
	}
	if err != nil {
		return store.BackgroundTask{}, false, err
	}
	return doc.toTask(), true, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status store.TaskStatus, errMsg string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.db.Collection(tasksCollection).UpdateOne(ctx,
		bson.M{"task_id": id},
		bson.M{"$set": bson.M{"status": string(status), "error": errMsg, "updated_at": time.Now().UTC()}})
	return err
}

func (s *Store) FindTaskBySession(ctx context.Context, sessionID string) (store.BackgroundTask, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc taskDocument
	err := s.db.Collection(tasksCollection).FindOne(ctx, bson.M{"result_session_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.BackgroundTask{}, false, nil
	}
	if err != nil {
		return store.BackgroundTask{}, false, err
	}
	return doc.toTask(), true, nil
}

// CompareAndSwapStatus issues a filtered update that only matches a document
// still in status from, giving the same optimistic-concurrency guarantee as
// memstore's in-process compare-and-swap.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id string, from, to store.TaskStatus) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.Collection(tasksCollection).UpdateOne(ctx,
		bson.M{"task_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": time.Now().UTC()}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

type workspaceDocument struct {
	WorkspaceID string    `bson:"workspace_id"`
	Title       string    `bson:"title"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (s *Store) SaveWorkspace(ctx context.Context, ws store.Workspace) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := workspaceDocument{WorkspaceID: ws.ID, Title: ws.Title, Status: string(ws.Status), CreatedAt: ws.CreatedAt.UTC()}
	_, err := s.db.Collection(workspacesCollection).UpdateOne(ctx,
		bson.M{"workspace_id": ws.ID}, bson.M{"$set": doc}, options.UpdateOne().SetUpsert(true))
	return err
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (store.Workspace, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc workspaceDocument
	err := s.db.Collection(workspacesCollection).FindOne(ctx, bson.M{"workspace_id": id}).Decode(&doc)
	if errors.Is(err, mongodriver.ErrNoDocuments) {
		return store.Workspace{}, false, nil
	}
	if err != nil {
		return store.Workspace{}, false, err
	}
	return store.Workspace{ID: doc.WorkspaceID, Title: doc.Title, Status: store.WorkspaceStatus(doc.Status), CreatedAt: doc.CreatedAt}, true, nil
}

func (s *Store) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.db.Collection(workspacesCollection).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []workspaceDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Workspace, len(docs))
	for i, d := range docs {
		out[i] = store.Workspace{ID: d.WorkspaceID, Title: d.Title, Status: store.WorkspaceStatus(d.Status), CreatedAt: d.CreatedAt}
	}
	return out, nil
}

type noteDocument struct {
	WorkspaceID string    `bson:"workspace_id"`
	NoteID      string    `bson:"note_id"`
	Text        string    `bson:"text"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (s *Store) SaveNote(ctx context.Context, note store.Note) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	doc := noteDocument{WorkspaceID: note.WorkspaceID, NoteID: note.ID, Text: note.Text, CreatedAt: note.CreatedAt.UTC()}
	_, err := s.db.Collection(notesCollection).InsertOne(ctx, doc)
	return err
}

func (s *Store) ListNotes(ctx context.Context, workspaceID string) ([]store.Note, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.db.Collection(notesCollection).Find(ctx, bson.M{"workspace_id": workspaceID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []noteDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]store.Note, len(docs))
	for i, d := range docs {
		out[i] = store.Note{ID: d.NoteID, WorkspaceID: d.WorkspaceID, Text: d.Text, CreatedAt: d.CreatedAt}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
