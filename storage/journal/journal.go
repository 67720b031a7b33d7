package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"multivault/core/events"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// ErrClosed is returned by queries issued after Close.
var ErrClosed = errors.New("journal: closed")

// Record is the persisted form of one emitted vault event.
type Record struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID `gorm:"type:uuid;uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	Accounts   string    `gorm:"index"`
	Attributes string
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name independent of the struct name.
func (Record) TableName() string { return "vault_events" }

// Entry is the read model returned by queries and subscriptions.
type Entry struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Filter narrows a List query. Zero values match everything.
type Filter struct {
	Type    string
	Account string
	// AfterSeq returns only entries with a larger sequence number.
	AfterSeq uint64
	Limit    int
}

// accountKeys are the attributes that identify the parties of an event.
var accountKeys = []string{"caller", "receiver", "owner", "account", "sender", "strategy"}

// Journal appends vault events to a SQL table and fans them out to live
// subscribers. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	subs   map[uint64]chan Entry
	nextID uint64
	closed bool
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Journal, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &Journal{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
		subs:   make(map[uint64]chan Entry),
	}, nil
}

func (j *Journal) SetLogger(logger *slog.Logger) {
	if j == nil || logger == nil {
		return
	}
	j.logger = logger.With("component", "journal")
}

func (j *Journal) SetClock(now func() time.Time) {
	if j == nil || now == nil {
		return
	}
	j.now = now
}

// Emit implements events.Emitter. Persistence failures are logged; the vault
// mutation that produced the event has already committed.
func (j *Journal) Emit(ev events.Event) {
	if j == nil || ev == nil {
		return
	}
	if _, err := j.Append(context.Background(), ev); err != nil {
		j.logger.Error("journal append failed", "type", ev.EventType(), "error", err)
	}
}

// Append persists ev and publishes it to subscribers.
func (j *Journal) Append(ctx context.Context, ev events.Event) (*Entry, error) {
	if j.isClosed() {
		return nil, ErrClosed
	}
	rendered := events.ToTypes(ev)
	attrs := rendered.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("journal: encode attributes: %w", err)
	}
	record := Record{
		EventID:    uuid.New(),
		Type:       rendered.Type,
		Accounts:   accountsOf(attrs),
		Attributes: string(encoded),
		CreatedAt:  j.now().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("journal: insert: %w", err)
	}
	entry := Entry{
		Seq:        record.Seq,
		ID:         record.EventID.String(),
		Type:       record.Type,
		Attributes: attrs,
		CreatedAt:  record.CreatedAt,
	}
	j.publish(entry)
	return &entry, nil
}

// accountsOf renders the party addresses as a delimited, lower-cased list so
// a LIKE query can match any of them.
func accountsOf(attrs map[string]string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range accountKeys {
		value := strings.ToLower(strings.TrimSpace(attrs[key]))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	if len(out) == 0 {
		return ""
	}
	sort.Strings(out)
	return "|" + strings.Join(out, "|") + "|"
}

// List returns journal entries in sequence order.
func (j *Journal) List(ctx context.Context, filter Filter) ([]Entry, error) {
	if j.isClosed() {
		return nil, ErrClosed
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	query := j.db.WithContext(ctx).Model(&Record{}).Where("seq > ?", filter.AfterSeq)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if account := strings.ToLower(strings.TrimSpace(filter.Account)); account != "" {
		query = query.Where("accounts LIKE ?", "%|"+account+"|%")
	}
	var records []Record
	if err := query.Order("seq ASC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, record := range records {
		entry, err := toEntry(record)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Count reports the number of persisted entries of the given type, or of all
// types when eventType is empty.
func (j *Journal) Count(ctx context.Context, eventType string) (int64, error) {
	if j.isClosed() {
		return 0, ErrClosed
	}
	query := j.db.WithContext(ctx).Model(&Record{})
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return n, nil
}

func toEntry(record Record) (Entry, error) {
	attrs := map[string]string{}
	if record.Attributes != "" {
		if err := json.Unmarshal([]byte(record.Attributes), &attrs); err != nil {
			return Entry{}, fmt.Errorf("journal: decode attributes of %d: %w", record.Seq, err)
		}
	}
	return Entry{
		Seq:        record.Seq,
		ID:         record.EventID.String(),
		Type:       record.Type,
		Attributes: attrs,
		CreatedAt:  record.CreatedAt,
	}, nil
}

// Subscribe registers a live feed of appended entries. Slow subscribers drop
// entries rather than block the writer. The returned cancel func must be
// called to release the channel.
func (j *Journal) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Entry, buffer)
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := j.nextID
	j.nextID++
	j.subs[id] = ch
	j.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if sub, ok := j.subs[id]; ok {
				delete(j.subs, id)
				close(sub)
			}
		})
	}
}

func (j *Journal) publish(entry Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for id, ch := range j.subs {
		select {
		case ch <- entry:
		default:
			j.logger.Warn("journal subscriber lagging, entry dropped", "subscriber", id, "seq", entry.Seq)
		}
	}
}

func (j *Journal) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// Close ends every subscription and closes the database handle.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	for id, ch := range j.subs {
		delete(j.subs, id)
		close(ch)
	}
	j.mu.Unlock()
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
