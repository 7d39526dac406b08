package ota

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
	"github.com/autopeer-io/fwagent/internal/deviceagent/hal"
	"github.com/autopeer-io/fwagent/internal/pkg/nvs"
)

const testDevice = "coop-test"

type fakeRestarter struct {
	mu      sync.Mutex
	reasons []string
	onCall  func()
}

func (r *fakeRestarter) Restart(_ context.Context, reason string) error {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (r *fakeRestarter) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

type recordingSender struct {
	mu       sync.Mutex
	messages []string
}

func (s *recordingSender) Send(_ context.Context, event core.EventType, payload []byte) error {
	if event != core.EventOTAProgress {
		return nil
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(payload, msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg.Fields[testDevice].GetStringValue())
	return nil
}

func (s *recordingSender) SendProto(ctx context.Context, event core.EventType, msg proto.Message) error {
	b, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	return s.Send(ctx, event, b)
}

func (s *recordingSender) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *recordingSender) Last() string {
	m := s.Messages()
	if len(m) == 0 {
		return ""
	}
	return m[len(m)-1]
}

// failingStore rejects every write.
type failingStore struct{}

func (failingStore) Read(context.Context) (*bootrecord.BootRecord, error) { return nil, nil }
func (failingStore) Write(context.Context, bootrecord.BootRecord) error {
	return errors.New("nvs: disk full")
}

type imageServer struct {
	*httptest.Server
	image  []byte
	hits   atomic.Int32
	mu     sync.Mutex
	ranges []string
}

func (s *imageServer) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ranges...)
}

// newImageServer serves image with range support. handler, when set,
// replaces the default handler for the request number it is given.
func newImageServer(t *testing.T, image []byte, handler func(n int32, w http.ResponseWriter, r *http.Request) bool) *imageServer {
	t.Helper()
	s := &imageServer{image: image}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := s.hits.Add(1)
		s.mu.Lock()
		s.ranges = append(s.ranges, r.Header.Get("Range"))
		s.mu.Unlock()
		if handler != nil && handler(n, w, r) {
			return
		}
		http.ServeContent(w, r, "fw.bin", time.Time{}, bytes.NewReader(s.image))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) Locator() string {
	return s.URL + "/fw.bin"
}

func randomImage(t *testing.T, size int) []byte {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

type harness struct {
	hal       *hal.MemoryHAL
	records   bootrecord.Store
	sender    *recordingSender
	restarter *fakeRestarter
	clock     clock.Clock
	cfg       Config
}

func newHarness(t *testing.T, bankSize uint64) *harness {
	t.Helper()
	kv, err := nvs.Open(filepath.Join(t.TempDir(), "nvs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	return &harness{
		hal:       hal.NewMemoryHAL(testDevice, bankSize),
		records:   bootrecord.NewStore(kv),
		sender:    &recordingSender{},
		restarter: &fakeRestarter{},
		clock:     clock.RealClock{},
		cfg:       Config{MaxRetries: 5, RetryDelay: 0, ProgressInterval: 100},
	}
}

func (h *harness) collaborators() Collaborators {
	return Collaborators{
		Platform:  h.hal,
		Engine:    NewEngine(h.hal, 4096, nil, nil),
		Verifier:  NewVerifier(h.hal, 4096),
		Records:   h.records,
		Sender:    h.sender,
		Restarter: h.restarter,
		Clock:     h.clock,
	}
}

func (h *harness) orchestrator() *Orchestrator {
	return NewOrchestrator("test-session", h.cfg, h.collaborators())
}

func (h *harness) manager() *Manager {
	c := h.collaborators()
	m := NewManager(h.cfg, c.Engine, c.Verifier, c.Records, c.Restarter)
	m.clock = h.clock
	return m
}
