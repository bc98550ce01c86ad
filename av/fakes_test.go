package av

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/peercall/identity"
	"github.com/opd-ai/peercall/media"
	"github.com/opd-ai/peercall/transport"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	transport.Events

	peerID string
	meta   json.RawMessage

	mu        sync.Mutex
	answered  *media.Stream
	answerErr error
	declined  []string
	closes    int
	replaced  []media.Track
	level     float64
}

func newFakeHandle(peerID string, meta json.RawMessage) *fakeHandle {
	return &fakeHandle{peerID: peerID, meta: meta}
}

func (h *fakeHandle) PeerID() string            { return h.peerID }
func (h *fakeHandle) Metadata() json.RawMessage { return h.meta }
func (h *fakeHandle) ConnectionID() string      { return "mc_" + h.peerID }

func (h *fakeHandle) Answer(ctx context.Context, stream *media.Stream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.answerErr != nil {
		return h.answerErr
	}
	h.answered = stream
	return nil
}

func (h *fakeHandle) ReplaceTrack(kind media.Kind, track media.Track) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replaced = append(h.replaced, track)
	return nil
}

func (h *fakeHandle) Decline(reason string) error {
	h.mu.Lock()
	h.declined = append(h.declined, reason)
	h.mu.Unlock()
	h.EmitClose()
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	h.EmitClose()
	return nil
}

func (h *fakeHandle) AudioLevel() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *fakeHandle) answeredStream() *media.Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.answered
}

func (h *fakeHandle) declines() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.declined...)
}

func (h *fakeHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

type placedCall struct {
	target string
	stream *media.Stream
	meta   json.RawMessage
	handle *fakeHandle
}

type fakeTransport struct {
	mu       sync.Mutex
	initErrs []error
	initIDs  []string
	placeErr error
	placed   []placedCall
	presence map[string]transport.Presence
	closed   bool

	onReady        func()
	onIncoming     func(transport.CallHandle)
	onError        func(error)
	onDisconnected func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{presence: make(map[string]transport.Presence)}
}

// failInit makes the next Initialize calls fail with errs, in order.
func (f *fakeTransport) failInit(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initErrs = append(f.initErrs, errs...)
}

func (f *fakeTransport) Initialize(ctx context.Context, selfID string, servers []transport.ICEServer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initIDs = append(f.initIDs, selfID)
	if len(f.initErrs) > 0 {
		err := f.initErrs[0]
		f.initErrs = f.initErrs[1:]
		return err
	}
	return nil
}

func (f *fakeTransport) PlaceCall(ctx context.Context, target string, stream *media.Stream, meta json.RawMessage) (transport.CallHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	h := newFakeHandle(target, meta)
	f.placed = append(f.placed, placedCall{target: target, stream: stream, meta: meta, handle: h})
	return h, nil
}

func (f *fakeTransport) OnReady(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onReady = fn
}

func (f *fakeTransport) OnIncomingCall(fn func(transport.CallHandle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onIncoming = fn
}

func (f *fakeTransport) OnError(fn func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = fn
}

func (f *fakeTransport) OnDisconnected(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnected = fn
}

func (f *fakeTransport) Presence(peerID string) transport.Presence {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presence[peerID]
}

func (f *fakeTransport) setPresence(peerID string, p transport.Presence) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presence[peerID] = p
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) incoming(h transport.CallHandle) {
	f.mu.Lock()
	fn := f.onIncoming
	f.mu.Unlock()
	fn(h)
}

func (f *fakeTransport) transportError(err error) {
	f.mu.Lock()
	fn := f.onError
	f.mu.Unlock()
	fn(err)
}

func (f *fakeTransport) disconnected() {
	f.mu.Lock()
	fn := f.onDisconnected
	f.mu.Unlock()
	fn()
}

func (f *fakeTransport) ready() {
	f.mu.Lock()
	fn := f.onReady
	f.mu.Unlock()
	fn()
}

func (f *fakeTransport) calls() []placedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedCall(nil), f.placed...)
}

func (f *fakeTransport) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.initIDs)
}

// gatedSource blocks GetUserMedia until release is closed.
type gatedSource struct {
	media.SyntheticSource
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	streams []*media.Stream
}

func newGatedSource() *gatedSource {
	return &gatedSource{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (g *gatedSource) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	g.entered <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s, err := g.SyntheticSource.GetUserMedia(ctx, c)
	if err == nil {
		g.mu.Lock()
		g.streams = append(g.streams, s)
		g.mu.Unlock()
	}
	return s, err
}

func (g *gatedSource) acquired() []*media.Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*media.Stream(nil), g.streams...)
}

type failingSource struct {
	media.SyntheticSource
	err error
}

func (f failingSource) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	return nil, f.err
}

type recordingRinger struct {
	mu     sync.Mutex
	starts []Direction
	stops  int
}

func (r *recordingRinger) Start(dir Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, dir)
}

func (r *recordingRinger) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
}

func (r *recordingRinger) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts), r.stops
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, s := range r.snaps {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func (r *snapshotRecorder) sawState(state State) bool {
	for _, s := range r.states() {
		if s == state {
			return true
		}
	}
	return false
}

func (r *snapshotRecorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}
	}
	return r.snaps[len(r.snaps)-1]
}

type harness struct {
	t      *testing.T
	mgr    *Manager
	tr     *fakeTransport
	clock  *clock.Mock
	ringer *recordingRinger
	rec    *snapshotRecorder
}

const (
	alice   = "alice@example.com"
	aliceID = "alice_example_com"
	bob     = "bob@example.com"
	bobID   = "bob_example_com"
)

func newHarness(t *testing.T, source media.Source) *harness {
	t.Helper()
	if source == nil {
		source = media.SyntheticSource{}
	}
	mc, err := media.NewController(source)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		tr:     newFakeTransport(),
		clock:  clock.NewMock(),
		ringer: &recordingRinger{},
		rec:    &snapshotRecorder{},
	}
	cfg := DefaultConfig()
	cfg.Clock = h.clock
	cfg.Ringer = h.ringer
	cfg.Directory = identity.NewDirectory("example.com", identity.User{Email: bob, Name: "Bob"})

	h.mgr, err = NewManager(h.tr, mc, cfg)
	require.NoError(t, err)
	h.mgr.OnStateChange(h.rec.record)
	t.Cleanup(func() { _ = h.mgr.Close() })
	return h
}

// started logs alice in.
func (h *harness) started() *harness {
	h.t.Helper()
	require.NoError(h.t, h.mgr.Start(context.Background(), alice))
	require.True(h.t, h.mgr.Snapshot().Ready)
	return h
}

func (h *harness) waitState(state State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.mgr.Snapshot().State == state },
		time.Second, 5*time.Millisecond, "waiting for %s, have %s", state, h.mgr.Snapshot().State)
}

func (h *harness) waitNotice() *Notice {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.mgr.Snapshot().Notice != nil },
		time.Second, 5*time.Millisecond)
	return h.mgr.Snapshot().Notice
}

func (h *harness) reinitPending() bool {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	return h.mgr.reinit != nil
}

// placeCall starts an outbound call to bob and returns its handle.
func (h *harness) placeCall(kind media.Kind) *fakeHandle {
	h.t.Helper()
	require.NoError(h.t, h.mgr.StartCall(context.Background(), bob, kind))
	calls := h.tr.calls()
	require.NotEmpty(h.t, calls)
	return calls[len(calls)-1].handle
}

// ring delivers an inbound call from bob.
func (h *harness) ring(kind string) *fakeHandle {
	h.t.Helper()
	var meta json.RawMessage
	if kind != "" {
		var err error
		meta, err = json.Marshal(Metadata{Kind: kind, Timestamp: 1, Caller: bob})
		require.NoError(h.t, err)
	}
	fh := newFakeHandle(bobID, meta)
	h.tr.incoming(fh)
	return fh
}

func remoteStream(kinds ...media.Kind) *media.Stream {
	s := media.NewStream()
	for _, k := range kinds {
		s.AddTrack(media.NewTrack(k))
	}
	return s
}

var errBoom = errors.New("boom")
