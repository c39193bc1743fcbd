package caption

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Edit is the single in-progress interactive edit.
type Edit struct {
	ID    string `json:"id"`
	Draft string `json:"draft"`
}

// Snapshot is a copy of the buffer contents safe to hand to other goroutines.
type Snapshot struct {
	Segments []Segment `json:"segments"`
	Current  string    `json:"current"`
	Editing  *Edit     `json:"editing,omitempty"`
}

// Persister stores finalized segments. Interim and editing state are never passed.
// AppendSegment adds one segment at position; SaveSegments replaces everything.
type Persister interface {
	AppendSegment(seg Segment, position int) error
	SaveSegments(segments []Segment) error
}

type Option func(*Buffer)

// WithSegments hydrates the buffer with previously persisted segments.
func WithSegments(segments []Segment) Option {
	return func(b *Buffer) {
		b.segments = append([]Segment(nil), segments...)
	}
}

func WithPersister(p Persister) Option {
	return func(b *Buffer) { b.persist = p }
}

// WithObserver registers a callback invoked after every mutation with the new
// contents. It runs under the buffer lock and must not call back into the buffer.
func WithObserver(fn func(Snapshot)) Option {
	return func(b *Buffer) { b.observe = fn }
}

func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

func WithIDFunc(newID func() string) Option {
	return func(b *Buffer) { b.newID = newID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) { b.log = logger }
}

// Buffer holds the ordered finalized captions, the live interim slot and the
// current edit. Operations on unknown ids or out-of-range positions are no-ops.
type Buffer struct {
	mu       sync.Mutex
	segments []Segment
	current  string
	editing  *Edit

	persist Persister
	observe func(Snapshot)
	now     func() time.Time
	newID   func() string
	log     *slog.Logger
}

// NewBuffer creates an empty buffer, or a hydrated one when WithSegments is given.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{
		now:   time.Now,
		newID: uuid.NewString,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.With("component", "caption.Buffer")
	return b
}

// Append commits finalized text as a new segment and clears the interim slot.
// Whitespace-only text is ignored.
func (b *Buffer) Append(text string) (Segment, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Segment{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seg := Segment{
		ID:        b.newID(),
		Text:      text,
		Timestamp: b.now(),
		IsFinal:   true,
	}
	b.segments = append(b.segments, seg)
	b.current = ""
	if b.persist != nil {
		if err := b.persist.AppendSegment(seg, len(b.segments)-1); err != nil {
			b.log.Warn("persist segment failed", "id", seg.ID, "error", err)
		}
	}
	b.commit(false)
	return seg, true
}

// SetCurrent replaces the interim slot verbatim.
func (b *Buffer) SetCurrent(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == text {
		return
	}
	b.current = text
	b.commit(false)
}

// StartEdit begins editing the segment with the given id, discarding any
// unsaved draft of a previous edit.
func (b *Buffer) StartEdit(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(id)
	if idx < 0 {
		return false
	}
	b.editing = &Edit{ID: id, Draft: b.segments[idx].Text}
	b.commit(false)
	return true
}

// SetDraft replaces the draft text of the active edit.
func (b *Buffer) SetDraft(text string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.editing == nil {
		return false
	}
	b.editing.Draft = text
	b.commit(false)
	return true
}

// SaveEdit writes the trimmed draft into the edited segment. An empty draft
// abandons the edit. The edit is cleared in every case; the result reports
// whether a segment changed.
func (b *Buffer) SaveEdit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.editing == nil {
		return false
	}

	edit := *b.editing
	b.editing = nil

	draft := strings.TrimSpace(edit.Draft)
	idx := b.indexLocked(edit.ID)
	if draft == "" || idx < 0 {
		b.commit(false)
		return false
	}

	b.segments[idx].Text = draft
	b.commit(true)
	return true
}

func (b *Buffer) CancelEdit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.editing == nil {
		return
	}
	b.editing = nil
	b.commit(false)
}

// Delete removes the segment with the given id, ending its edit if active.
func (b *Buffer) Delete(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(id)
	if idx < 0 {
		return false
	}
	b.segments = append(b.segments[:idx], b.segments[idx+1:]...)
	if b.editing != nil && b.editing.ID == id {
		b.editing = nil
	}
	b.commit(true)
	return true
}

// MergeWithNext folds the segment after index into the one at index, keeping
// the earlier id and timestamp.
func (b *Buffer) MergeWithNext(index int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.mergeLocked(index)
}

// Merge is the id-based variant of MergeWithNext; it does nothing unless
// nextID immediately follows id.
func (b *Buffer) Merge(id, nextID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(id)
	nextIdx := b.indexLocked(nextID)
	if idx < 0 || nextIdx != idx+1 {
		return false
	}
	return b.mergeLocked(idx)
}

func (b *Buffer) mergeLocked(index int) bool {
	if index < 0 || index >= len(b.segments)-1 {
		return false
	}

	first := b.segments[index]
	second := b.segments[index+1]
	first.Text = strings.TrimSpace(first.Text + " " + second.Text)

	b.segments[index] = first
	b.segments = append(b.segments[:index+1], b.segments[index+2:]...)
	if b.editing != nil && (b.editing.ID == first.ID || b.editing.ID == second.ID) {
		b.editing = nil
	}
	b.commit(true)
	return true
}

// Clear drops every segment together with the interim slot and the edit.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.segments = nil
	b.current = ""
	b.editing = nil
	b.commit(true)
}

// Get returns the segment with the given id.
func (b *Buffer) Get(id string) (Segment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := b.indexLocked(id)
	if idx < 0 {
		return Segment{}, ErrNotFound
	}
	return b.segments[idx], nil
}

// IndexOf returns the rendering position of id, or -1.
func (b *Buffer) IndexOf(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexLocked(id)
}

// Segments returns a copy of the finalized segments.
func (b *Buffer) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneSegments(b.segments)
}

func (b *Buffer) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Buffer) snapshotLocked() Snapshot {
	snap := Snapshot{
		Segments: cloneSegments(b.segments),
		Current:  b.current,
	}
	if b.editing != nil {
		edit := *b.editing
		snap.Editing = &edit
	}
	return snap
}

func (b *Buffer) indexLocked(id string) int {
	for i := range b.segments {
		if b.segments[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Buffer) commit(segmentsChanged bool) {
	if segmentsChanged && b.persist != nil {
		if err := b.persist.SaveSegments(cloneSegments(b.segments)); err != nil {
			b.log.Warn("persist segments failed", "error", err)
		}
	}
	if b.observe != nil {
		b.observe(b.snapshotLocked())
	}
}

func cloneSegments(segments []Segment) []Segment {
	if segments == nil {
		return []Segment{}
	}
	return append([]Segment(nil), segments...)
}
