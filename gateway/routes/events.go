package routes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"multivault/storage/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 64
)

type eventRoutes struct {
	journal *journal.Journal
	logger  *slog.Logger
	// origins limits websocket upgrades; empty accepts any origin.
	origins []string
}

func (er *eventRoutes) mount(r chi.Router) {
	r.Get("/", er.list)
	r.Get("/stream", er.stream)
}

func parseFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	filter := journal.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		addr, err := parseAddress("account", raw)
		if err != nil {
			return filter, err
		}
		filter.Account = addr.Hex()
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, errors.New("after must be an unsigned integer")
		}
		filter.AfterSeq = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func (er *eventRoutes) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	entries, err := er.journal.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, er.logger, err)
		return
	}
	next := filter.AfterSeq
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": entries,
		"next":   next,
	})
}

// stream upgrades to a websocket and pushes matching journal entries as they
// are appended. Entries after the `after` cursor are replayed first.
func (er *eventRoutes) stream(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeBadRequest(w, r, err)
		return
	}
	opts := &websocket.AcceptOptions{OriginPatterns: er.origins}
	if len(opts.OriginPatterns) == 0 {
		opts.OriginPatterns = []string{"*"}
	}
	// Subscribe before replaying so nothing appended in between is lost.
	updates, cancel := er.journal.Subscribe(wsBuffer)
	defer cancel()

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())

	if err := er.pump(ctx, conn, filter, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
			er.logger.Debug("event stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (er *eventRoutes) pump(ctx context.Context, conn *websocket.Conn, filter journal.Filter, updates <-chan journal.Entry) error {
	last := filter.AfterSeq
	if filter.AfterSeq > 0 {
		var err error
		last, err = replay(ctx, er.journal, filter, func(entry journal.Entry) error {
			return writeEntry(ctx, conn, entry)
		})
		if err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if entry.Seq <= last || !matches(filter, entry) {
				continue
			}
			if err := writeEntry(ctx, conn, entry); err != nil {
				return err
			}
			last = entry.Seq
		}
	}
}

// replay pages through the journal from filter.AfterSeq until it is
// exhausted, passing each entry to fn. It returns the last sequence seen.
func replay(ctx context.Context, j *journal.Journal, filter journal.Filter, fn func(journal.Entry) error) (uint64, error) {
	last := filter.AfterSeq
	page := filter
	for {
		page.AfterSeq = last
		entries, err := j.List(ctx, page)
		if err != nil {
			return last, err
		}
		if len(entries) == 0 {
			return last, nil
		}
		for _, entry := range entries {
			if err := fn(entry); err != nil {
				return last, err
			}
			last = entry.Seq
		}
	}
}

func matches(filter journal.Filter, entry journal.Entry) bool {
	if filter.Type != "" && filter.Type != entry.Type {
		return false
	}
	if filter.Account == "" {
		return true
	}
	for _, v := range entry.Attributes {
		if strings.EqualFold(v, filter.Account) {
			return true
		}
	}
	return false
}

func writeEntry(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
