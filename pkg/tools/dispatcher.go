// Package tools executes function calls requested by the remote engine
// against local collaborators and returns correlated results.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/murmurkit/murmur/pkg/mail"
	"github.com/murmurkit/murmur/pkg/store"
)

// Call is one function call from the remote engine.
type Call struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Response answers one Call. ID must match the originating call.
type Response struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// Mailbox is the slice of the mail client the dispatcher needs.
type Mailbox interface {
	Authenticated() bool
	ListUnread(ctx context.Context, max int) ([]mail.Message, error)
	Search(ctx context.Context, query string, max int) ([]mail.Message, error)
}

// Outcome labels how a single call resolved, for metrics.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeAdvisory Outcome = "advisory"
	OutcomeUnknown  Outcome = "unknown"
)

// Memory is one stored user fact.
type Memory struct {
	Text    string    `json:"text"`
	SavedAt time.Time `json:"savedAt"`
}

// Task is one stored to-do item.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is one stored email draft.
type Draft struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	keyMemories = "memories"
	keyTasks    = "tasks"
	keyDrafts   = "drafts"

	defaultMailResults = 10
)

// Dispatcher resolves tool-call batches. Each call runs on its own
// goroutine; a failing collaborator affects only its own call.
type Dispatcher struct {
	store store.Store
	mail  Mailbox
	log   *slog.Logger

	// onResolved, when set, is invoked once per call with its outcome.
	onResolved func(name string, outcome Outcome)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithResolvedFunc installs a per-call outcome callback.
func WithResolvedFunc(fn func(name string, outcome Outcome)) Option {
	return func(d *Dispatcher) { d.onResolved = fn }
}

// NewDispatcher creates a dispatcher over the given collaborators.
func NewDispatcher(st store.Store, mailbox Mailbox, log *slog.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{store: st, mail: mailbox, log: log}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch resolves every call in the batch and delivers responses on the
// returned channel as they complete, in any order. The channel is closed
// once every call has been answered. Every call id gets exactly one
// response.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call) <-chan Response {
	out := make(chan Response, len(calls))
	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(call Call) {
			defer wg.Done()
			out <- d.resolve(ctx, call)
		}(call)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (d *Dispatcher) resolve(ctx context.Context, call Call) Response {
	result, outcome := d.run(ctx, call)
	d.log.Debug("tool call resolved", "id", call.ID, "name", call.Name, "outcome", string(outcome))
	if d.onResolved != nil {
		d.onResolved(call.Name, outcome)
	}
	return Response{ID: call.ID, Name: call.Name, Result: result}
}

func (d *Dispatcher) run(ctx context.Context, call Call) (any, Outcome) {
	switch call.Name {
	case "save_memory":
		return d.saveMemory(call.Args)
	case "get_memories":
		return d.getMemories()
	case "compose_draft":
		return d.composeDraft(call.Args)
	case "create_task":
		return d.createTask(call.Args)
	case "read_unread_emails":
		return d.readUnread(ctx)
	case "search_emails":
		return d.searchEmails(ctx, call.Args)
	default:
		// One unknown tool must never block responses for the others.
		d.log.Warn("unknown tool call", "name", call.Name)
		return "ok", OutcomeUnknown
	}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func (d *Dispatcher) saveMemory(args map[string]any) (any, Outcome) {
	text := strings.TrimSpace(stringArg(args, "text"))
	if text == "" {
		return "Nothing to save.", OutcomeAdvisory
	}
	var memories []Memory
	if err := d.load(keyMemories, &memories); err != nil {
		return d.advisory("load memories", err), OutcomeAdvisory
	}
	memories = append(memories, Memory{Text: text, SavedAt: time.Now().UTC()})
	if err := d.store.Set(keyMemories, memories); err != nil {
		return d.advisory("save memory", err), OutcomeAdvisory
	}
	return "Memory saved.", OutcomeOK
}

func (d *Dispatcher) getMemories() (any, Outcome) {
	var memories []Memory
	if err := d.load(keyMemories, &memories); err != nil {
		return d.advisory("load memories", err), OutcomeAdvisory
	}
	if len(memories) == 0 {
		return "No memories saved yet.", OutcomeOK
	}
	texts := make([]string, len(memories))
	for i, m := range memories {
		texts[i] = m.Text
	}
	return texts, OutcomeOK
}

func (d *Dispatcher) composeDraft(args map[string]any) (any, Outcome) {
	subject := stringArg(args, "subject")
	draft := Draft{
		ID:        uuid.NewString(),
		To:        stringArg(args, "to"),
		Subject:   subject,
		Body:      stringArg(args, "body"),
		CreatedAt: time.Now().UTC(),
	}
	var drafts []Draft
	if err := d.load(keyDrafts, &drafts); err != nil {
		return d.advisory("load drafts", err), OutcomeAdvisory
	}
	drafts = append(drafts, draft)
	if err := d.store.Set(keyDrafts, drafts); err != nil {
		return d.advisory("save draft", err), OutcomeAdvisory
	}
	return fmt.Sprintf("Draft saved: %q", subject), OutcomeOK
}

func (d *Dispatcher) createTask(args map[string]any) (any, Outcome) {
	title := stringArg(args, "title")
	task := Task{ID: uuid.NewString(), Title: title, CreatedAt: time.Now().UTC()}
	var tasks []Task
	if err := d.load(keyTasks, &tasks); err != nil {
		return d.advisory("load tasks", err), OutcomeAdvisory
	}
	tasks = append(tasks, task)
	if err := d.store.Set(keyTasks, tasks); err != nil {
		return d.advisory("save task", err), OutcomeAdvisory
	}
	return fmt.Sprintf("Task created: %q", title), OutcomeOK
}

func (d *Dispatcher) readUnread(ctx context.Context) (any, Outcome) {
	if d.mail == nil || !d.mail.Authenticated() {
		return "Email isn't connected yet. Link a mailbox first.", OutcomeAdvisory
	}
	msgs, err := d.mail.ListUnread(ctx, defaultMailResults)
	if err != nil {
		return d.mailAdvisory(err), OutcomeAdvisory
	}
	if len(msgs) == 0 {
		return "No unread emails.", OutcomeOK
	}
	return summarize(msgs), OutcomeOK
}

func (d *Dispatcher) searchEmails(ctx context.Context, args map[string]any) (any, Outcome) {
	if d.mail == nil || !d.mail.Authenticated() {
		return "Email isn't connected yet. Link a mailbox first.", OutcomeAdvisory
	}
	query := stringArg(args, "query")
	msgs, err := d.mail.Search(ctx, query, defaultMailResults)
	if err != nil {
		return d.mailAdvisory(err), OutcomeAdvisory
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("No emails found for %q.", query), OutcomeOK
	}
	return summarize(msgs), OutcomeOK
}

func summarize(msgs []mail.Message) []map[string]string {
	out := make([]map[string]string, len(msgs))
	for i, m := range msgs {
		out[i] = map[string]string{
			"from":    m.From,
			"subject": m.Subject,
			"snippet": m.Snippet,
		}
	}
	return out
}

func (d *Dispatcher) advisory(op string, err error) string {
	d.log.Warn("tool collaborator failed", "op", op, "err", err)
	return "Something went wrong saving that. Please try again."
}

func (d *Dispatcher) mailAdvisory(err error) string {
	if errors.Is(err, mail.ErrUnauthenticated) {
		return "Email isn't connected yet. Link a mailbox first."
	}
	d.log.Warn("mail collaborator failed", "err", err)
	return "Couldn't reach the mail service just now."
}

func (d *Dispatcher) load(key string, dst any) error {
	raw, ok, err := d.store.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
