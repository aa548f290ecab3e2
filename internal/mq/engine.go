package mq

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	pebblestore "github.com/while-basic/celaya-parachain-sub004/internal/storage/pebble"
	"github.com/while-basic/celaya-parachain-sub004/pkg/log"
)

// Options configures an Engine.
type Options struct {
	// PageCapacity bounds the payload bytes appended to one page. A
	// single payload larger than this is rejected with ErrTooLarge.
	PageCapacity uint32
	// MaxTemporaryRetries bounds consecutive temporary failures of one
	// message before it is forcibly parked as overweight.
	MaxTemporaryRetries uint32
	// TurnMessageCap limits messages served per origin visit. Zero
	// means "until the current page drains".
	TurnMessageCap int

	Handler Handler
	Events  EventSink
	Logger  log.Logger
}

// DefaultPageCapacity is the page payload bound used when unset.
const DefaultPageCapacity = 64 << 10

// DefaultMaxTemporaryRetries is the retry bound used when unset.
const DefaultMaxTemporaryRetries = 3

// Engine is the multi-origin queue processor. All state is owned
// exclusively by the engine and persisted through one Pebble store.
type Engine struct {
	db     *pebblestore.DB
	opts   Options
	logger log.Logger

	// mu serializes every read-modify-commit of books, pages, and the
	// ring, from Enqueue and from the service loop's settle steps. It
	// is never held across a handler call, so enqueues keep flowing
	// while a message is being processed.
	mu   sync.Mutex
	busy atomic.Bool // Service/ExecuteOverweight reentrancy guard
}

// Open builds an Engine over the given store.
func Open(db *pebblestore.DB, opts Options) (*Engine, error) {
	if db == nil {
		return nil, errors.New("mq: nil store")
	}
	if opts.Handler == nil {
		return nil, errors.New("mq: Options.Handler is required")
	}
	if opts.PageCapacity == 0 {
		opts.PageCapacity = DefaultPageCapacity
	}
	if opts.MaxTemporaryRetries == 0 {
		opts.MaxTemporaryRetries = DefaultMaxTemporaryRetries
	}
	if opts.Events == nil {
		opts.Events = NoopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{db: db, opts: opts, logger: logger.With(log.Component("mq"))}, nil
}

// serviceToken is the explicit reentrancy guard passed through a
// Service or ExecuteOverweight call and released on every exit path.
type serviceToken struct {
	e *Engine
}

func (e *Engine) acquire() (*serviceToken, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrant
	}
	return &serviceToken{e: e}, nil
}

func (t *serviceToken) release() {
	t.e.busy.Store(false)
}

// ringSnapshot reads the persisted ring head and size.
func (e *Engine) ringSnapshot() (string, uint32, error) {
	head, err := e.db.Get(ringHeadKey())
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	raw, err := e.db.Get(ringSizeKey())
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return string(head), 0, nil
	}
	if err != nil {
		return "", 0, err
	}
	if len(raw) < 4 {
		return "", 0, errors.New("mq: corrupt ring size record")
	}
	return string(head), binary.BigEndian.Uint32(raw[:4]), nil
}

func (e *Engine) loadPage(origin string, index uint32) (*page, []byte, error) {
	raw, err := e.db.Get(pageKey(origin, index))
	if err != nil {
		return nil, nil, err
	}
	pg, err := decodePage(raw)
	if err != nil {
		return nil, raw, err
	}
	return pg, raw, nil
}

// Enqueue appends payload to origin's current page, allocating a new
// page when the capacity bound would be crossed. An origin whose count
// transitions from zero is linked into the ready ring.
func (e *Engine) Enqueue(ctx context.Context, origin string, payload []byte) error {
	if !validOrigin(origin) {
		return ErrBadOrigin
	}
	if uint32(len(payload)) > e.opts.PageCapacity {
		return ErrTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.newTxn()
	bk, ok, err := t.book(origin)
	if err != nil {
		return err
	}
	if !ok {
		bk = t.create(origin)
	}

	var pg *page
	index := bk.End
	if bk.End > bk.Begin {
		cur, _, err := e.loadPage(origin, bk.End-1)
		switch {
		case errors.Is(err, pebblestore.ErrKeyNotFound):
			// missing current page; fall through to a fresh one
		case err != nil && errors.Is(err, errCorruptPage):
			// corrupt append target; leave it for service-time
			// quarantine and open a fresh page
		case err != nil:
			return err
		case cur.Used+uint32(len(payload)) <= e.opts.PageCapacity:
			pg = cur
			index = bk.End - 1
		}
	}
	if pg == nil {
		pg = &page{}
		bk.End++
	}
	pg.appendMessage(payload)

	wasEmpty := bk.Count == 0
	bk.Count++
	bk.Size += uint64(len(payload))
	t.mark(origin)
	if wasEmpty {
		if err := t.link(origin); err != nil {
			return err
		}
	}

	b := e.db.NewBatch()
	defer b.Close()
	if err := b.Set(pageKey(origin, index), encodePage(pg), nil); err != nil {
		return err
	}
	return t.commit(ctx, b)
}

// Footprint reports origin's queued pages, messages, and bytes, plus
// its parked overweight backlog, for admission-side backpressure.
type Footprint struct {
	Pages              uint32 `json:"pages"`
	Messages           uint64 `json:"messages"`
	TotalSize          uint64 `json:"total_size"`
	OverweightMessages uint64 `json:"overweight_messages"`
	OverweightSize     uint64 `json:"overweight_size"`
}

// FootprintOf returns the current footprint for origin. Unknown origins
// report zeroes.
func (e *Engine) FootprintOf(origin string) (Footprint, error) {
	if !validOrigin(origin) {
		return Footprint{}, ErrBadOrigin
	}
	var fp Footprint
	raw, err := e.db.Get(bookKey(origin))
	if err == nil {
		bk, derr := decodeBook(raw)
		if derr != nil {
			return Footprint{}, derr
		}
		fp.Pages = bk.End - bk.Begin
		fp.Messages = bk.Count
		fp.TotalSize = bk.Size
	} else if !errors.Is(err, pebblestore.ErrKeyNotFound) {
		return Footprint{}, err
	}
	err = e.db.ScanPrefix(owIndexPrefix(origin), func(k, v []byte) (bool, error) {
		if len(v) >= 4 {
			fp.OverweightSize += uint64(binary.BigEndian.Uint32(v[:4]))
		}
		fp.OverweightMessages++
		return true, nil
	})
	if err != nil {
		return Footprint{}, err
	}
	return fp, nil
}

// Messages returns every unprocessed payload of one origin in order.
// Introspection helper; the service loop never materializes backlogs.
func (e *Engine) Messages(origin string) ([][]byte, error) {
	raw, err := e.db.Get(bookKey(origin))
	if errors.Is(err, pebblestore.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bk, err := decodeBook(raw)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for idx := bk.Begin; idx < bk.End; idx++ {
		pg, _, err := e.loadPage(origin, idx)
		if errors.Is(err, pebblestore.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs, err := pg.messages()
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}
