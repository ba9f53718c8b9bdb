package queue

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ridgeci/ridgeline/observability"
)

// TaskResolver turns a task's persisted FullDisplayName back into a
// live Task on load. Entries that fail to resolve are corrupt by
// definition (§4.9) and are dropped silently.
type TaskResolver interface {
	ResolveTask(name string) (Task, bool)
}

// ActionCodec is the opaque round-trip contract for actions that
// should survive a save/load cycle. Actions with no codec support are
// simply omitted from the persisted record; the item itself is still
// restored.
type ActionCodec interface {
	Encode(a Action) (data string, ok bool)
	Decode(kind, data string) (Action, bool)
}

// PersistedItem is the stage-agnostic record Persistence implementations
// read and write; BuildQueue.Save/Load translate between this and the
// live waiting/blocked/buildable containers.
type PersistedItem struct {
	ID                  ItemID
	TaskName            string
	Stage               Stage
	InQueueSince        time.Time
	DueAt               time.Time
	EnteredNonWaitingAt time.Time
	ActionKinds         []string
	ActionData          []string
}

// LoadResult separates fully-formed records from bare task names, the
// latter covering both a standalone legacy file and any bare <task>
// entries mixed into an otherwise structured document.
type LoadResult struct {
	Items           []PersistedItem
	LegacyTaskNames []string
}

// Persistence is the storage backend behind BuildQueue.Save/Load. The
// default, FilePersistence, is grounded on queue.xml/queue.txt (§4.9);
// a test fake can implement this directly to avoid touching a real
// filesystem.
type Persistence interface {
	Save(records []PersistedItem) error
	Load() (LoadResult, error)
}

// xmlDocument is the on-disk shape of queue.xml.
type xmlDocument struct {
	XMLName xml.Name      `xml:"queue"`
	Tasks   []xmlBareTask `xml:"task"`
	Items   []xmlItem     `xml:"item"`
}

type xmlBareTask struct {
	Name string `xml:"name,attr"`
}

type xmlItem struct {
	ID                  uint64        `xml:"id,attr"`
	Stage               string        `xml:"stage,attr"`
	TaskName            string        `xml:"taskName"`
	InQueueSince        int64         `xml:"inQueueSinceUnixNano"`
	DueAt               int64         `xml:"dueAtUnixNano,omitempty"`
	EnteredNonWaitingAt int64         `xml:"enteredNonWaitingAtUnixNano,omitempty"`
	Actions             []xmlAction   `xml:"actions>action,omitempty"`
}

type xmlAction struct {
	Kind string `xml:"kind,attr"`
	Data string `xml:",chardata"`
}

// FilePersistence stores the queue as queue.xml next to a legacy
// queue.txt migration path, matching the historical one-name-per-line
// format this design note carries forward for compatibility.
type FilePersistence struct {
	Path       string
	LegacyPath string
}

// NewFilePersistence returns a FilePersistence rooted at dir.
func NewFilePersistence(dir string) *FilePersistence {
	return &FilePersistence{
		Path:       filepath.Join(dir, "queue.xml"),
		LegacyPath: filepath.Join(dir, "queue.txt"),
	}
}

// Save writes records as queue.xml, replacing whatever was there.
func (p *FilePersistence) Save(records []PersistedItem) error {
	doc := xmlDocument{}
	for _, r := range records {
		item := xmlItem{
			ID:           uint64(r.ID),
			Stage:        r.Stage.String(),
			TaskName:     r.TaskName,
			InQueueSince: r.InQueueSince.UnixNano(),
		}
		if !r.DueAt.IsZero() {
			item.DueAt = r.DueAt.UnixNano()
		}
		if !r.EnteredNonWaitingAt.IsZero() {
			item.EnteredNonWaitingAt = r.EnteredNonWaitingAt.UnixNano()
		}
		for i, kind := range r.ActionKinds {
			item.Actions = append(item.Actions, xmlAction{Kind: kind, Data: r.ActionData[i]})
		}
		doc.Items = append(doc.Items, item)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("queue: encode queue.xml: %w", err)
	}

	return os.WriteFile(p.Path, buf.Bytes(), 0o644)
}

// Load implements §4.9's two load paths: a standalone legacy text file
// takes priority and is deleted once read; otherwise the structured
// file (if any) is parsed, then renamed to a .bak sibling for
// post-mortem.
func (p *FilePersistence) Load() (LoadResult, error) {
	if _, err := os.Stat(p.LegacyPath); err == nil {
		names, rerr := readLegacyNames(p.LegacyPath)
		if rerr != nil {
			return LoadResult{}, rerr
		}
		if rerr := os.Remove(p.LegacyPath); rerr != nil {
			return LoadResult{}, rerr
		}
		return LoadResult{LegacyTaskNames: names}, nil
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadResult{}, nil
		}
		logDecision(decision{Event: "persistence_io_fault", Reason: err.Error()})
		return LoadResult{}, fmt.Errorf("queue: read queue.xml: %w", err)
	}

	var doc xmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		logDecision(decision{Event: "persistence_parse_fault", Reason: err.Error()})
		return LoadResult{}, fmt.Errorf("queue: parse queue.xml: %w", err)
	}

	result := LoadResult{}
	for _, t := range doc.Tasks {
		if t.Name != "" {
			result.LegacyTaskNames = append(result.LegacyTaskNames, t.Name)
		}
	}
	for _, it := range doc.Items {
		if it.TaskName == "" {
			continue // corrupt entry: null task, dropped silently
		}
		rec := PersistedItem{
			ID:           ItemID(it.ID),
			TaskName:     it.TaskName,
			InQueueSince: time.Unix(0, it.InQueueSince),
		}
		switch it.Stage {
		case "waiting":
			rec.Stage = StageWaiting
			rec.DueAt = time.Unix(0, it.DueAt)
		case "blocked":
			rec.Stage = StageBlocked
			rec.EnteredNonWaitingAt = time.Unix(0, it.EnteredNonWaitingAt)
		case "buildable":
			rec.Stage = StageBuildable
			rec.EnteredNonWaitingAt = time.Unix(0, it.EnteredNonWaitingAt)
		default:
			continue // unrecognized stage, dropped silently
		}
		for _, a := range it.Actions {
			rec.ActionKinds = append(rec.ActionKinds, a.Kind)
			rec.ActionData = append(rec.ActionData, a.Data)
		}
		result.Items = append(result.Items, rec)
	}

	if err := os.Rename(p.Path, p.Path+".bak"); err != nil && !os.IsNotExist(err) {
		return LoadResult{}, fmt.Errorf("queue: archive queue.xml: %w", err)
	}

	return result, nil
}

func readLegacyNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}

// Save persists every waiting, blocked, and buildable item whose task
// is flagged persistent (§4.9); pending items and transient tasks are
// excluded. It is a no-op if no Persistence backend is installed.
func (q *BuildQueue) Save(codec ActionCodec) error {
	q.mu.RLock()
	persist := q.persist
	items := q.store.allNonPending()
	q.mu.RUnlock()

	if persist == nil {
		return nil
	}

	records := make([]PersistedItem, 0, len(items))
	for _, it := range items {
		if !it.Task().IsPersistent() {
			continue
		}
		rec := PersistedItem{
			ID:           it.ID(),
			TaskName:     it.Task().FullDisplayName(),
			Stage:        it.Stage(),
			InQueueSince: it.InQueueSince(),
		}
		switch v := it.(type) {
		case *WaitingItem:
			rec.DueAt = v.DueAt
		case *BlockedItem:
			rec.EnteredNonWaitingAt = v.EnteredNonWaitingAt
		case *BuildableItem:
			rec.EnteredNonWaitingAt = v.EnteredNonWaitingAt
		}
		if codec != nil {
			for _, a := range it.Actions() {
				if data, ok := codec.Encode(a); ok {
					rec.ActionKinds = append(rec.ActionKinds, a.Kind())
					rec.ActionData = append(rec.ActionData, data)
				}
			}
		}
		records = append(records, rec)
	}

	if err := persist.Save(records); err != nil {
		observability.PersistenceOperations.WithLabelValues("save", "error").Inc()
		return err
	}
	observability.PersistenceOperations.WithLabelValues("save", "ok").Inc()
	return nil
}

// Load restores persisted state (§4.9). Bare task-name entries, legacy
// or otherwise, are re-admitted through Schedule with quiet period 0 so
// they go through ordinary admission; full records are reinstated
// directly into their recorded stage, bypassing admission entirely
// since they already passed it once. It is a no-op if no Persistence
// backend is installed.
func (q *BuildQueue) Load(resolver TaskResolver, codec ActionCodec) error {
	q.mu.RLock()
	persist := q.persist
	q.mu.RUnlock()
	if persist == nil {
		return nil
	}

	result, err := persist.Load()
	if err != nil {
		observability.PersistenceOperations.WithLabelValues("load", "error").Inc()
		return err
	}
	observability.PersistenceOperations.WithLabelValues("load", "ok").Inc()

	for _, name := range result.LegacyTaskNames {
		if task, ok := resolver.ResolveTask(name); ok {
			q.Schedule(task, 0)
		}
	}

	var maxID ItemID
	q.mu.Lock()
	for _, rec := range result.Items {
		task, ok := resolver.ResolveTask(rec.TaskName)
		if !ok {
			continue // corrupt entry: unresolvable task, dropped silently
		}
		var actions []Action
		if codec != nil {
			for i, kind := range rec.ActionKinds {
				if a, ok := codec.Decode(kind, rec.ActionData[i]); ok {
					actions = append(actions, a)
				}
			}
		}
		base := payload{
			id:           rec.ID,
			task:         task,
			actions:      actions,
			future:       NewCompletionFuture(),
			inQueueSince: rec.InQueueSince,
		}
		switch rec.Stage {
		case StageWaiting:
			q.store.pushWaiting(&WaitingItem{payload: base, DueAt: rec.DueAt})
		case StageBlocked:
			q.store.putBlocked(&BlockedItem{payload: base, EnteredNonWaitingAt: rec.EnteredNonWaitingAt})
		case StageBuildable:
			q.store.putBuildable(&BuildableItem{payload: base, EnteredNonWaitingAt: rec.EnteredNonWaitingAt})
		default:
			continue
		}
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}
	q.mu.Unlock()

	q.ids.seed(maxID + 1)
	q.ScheduleMaintenance()
	return nil
}
