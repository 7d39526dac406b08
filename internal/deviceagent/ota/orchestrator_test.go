package ota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/fwagent/internal/deviceagent/bootorigin"
	"github.com/autopeer-io/fwagent/internal/deviceagent/bootrecord"
	"github.com/autopeer-io/fwagent/internal/deviceagent/core"
)

const mib = 1 << 20

func assertPhases(t *testing.T, want []Phase, s Session) {
	t.Helper()
	if diff := cmp.Diff(want, s.History); diff != "" {
		t.Errorf("phase history mismatch (-want +got):\n%s", diff)
	}
}

func assertBootUnchanged(t *testing.T, h *harness) {
	t.Helper()
	running, _ := h.hal.RunningBank()
	boot, _ := h.hal.BootBank()
	assert.Equal(t, running, boot, "boot target must stay on the running bank")
}

func TestBeginUpdateCommitsAndRestarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mib)
	fake := testingclock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	h.clock = fake
	h.hal.OnWrite(func(core.StorageBank, uint64, int) { fake.Step(time.Second) })

	image := randomImage(t, mib)
	srv := newImageServer(t, image, nil)
	next, _ := h.hal.NextUpdateBank()
	running, _ := h.hal.RunningBank()

	o := h.orchestrator()
	require.NoError(t, o.BeginUpdate(ctx, Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}))

	s := o.Session()
	assertPhases(t, []Phase{PhaseIdle, PhaseDownloading, PhaseVerifying, PhaseCommittingBoot, PhaseRebooting}, s)
	assert.Equal(t, uint64(mib), s.BytesTransferred)
	assert.Equal(t, next, s.Bank)
	assert.Zero(t, s.RetriesUsed)
	assert.NoError(t, s.Err)

	boot, _ := h.hal.BootBank()
	assert.Equal(t, next, boot)
	assert.Equal(t, 1, h.restarter.Calls())

	rec, err := h.records.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, &bootrecord.BootRecord{LastBootBankAddress: running.Address, PendingBankAddress: next.Address}, rec)

	// 256 chunks: progress on steps 0, 100 and 200, then the completion report.
	assert.Equal(t, []string{
		"00:01 elapsed...",
		"01:41 elapsed...",
		"03:21 elapsed...",
		"OTA COMPLETED. Duration: 00:04:16",
	}, h.sender.Messages())

	// The next boot sees the switched bank.
	require.NoError(t, h.hal.Reboot())
	origin, err := bootorigin.NewClassifier(h.hal, h.records).Classify(ctx)
	require.NoError(t, err)
	assert.Equal(t, bootorigin.PostUpdateReboot, origin)
}

func TestBeginUpdateRunsOnce(t *testing.T) {
	h := newHarness(t, 4096)
	o := h.orchestrator()

	_ = o.BeginUpdate(context.Background(), Request{})
	assert.Error(t, o.BeginUpdate(context.Background(), Request{}))
}

func TestBeginUpdateWrongDigest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 64*1024)
	image := randomImage(t, 64*1024)
	srv := newImageServer(t, image, nil)

	o := h.orchestrator()
	err := o.BeginUpdate(ctx, Request{SourceURL: srv.Locator(), ExpectedChecksum: strings.Repeat("ab", 32)})
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	assertPhases(t, []Phase{PhaseIdle, PhaseDownloading, PhaseVerifying, PhaseFailed}, o.Session())
	assert.Equal(t, 1, h.restarter.Calls())
	assert.Zero(t, h.hal.SetBootCalls())
	assertBootUnchanged(t, h)

	rec, err := h.records.Read(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "boot record must not be touched")

	assert.True(t, strings.HasPrefix(h.sender.Last(), "OTA FAILED: IntegrityMismatch: "), h.sender.Last())

	// Restarting keeps the device on its image and classifies a normal reboot.
	require.NoError(t, h.hal.Reboot())
	origin, err := bootorigin.NewClassifier(h.hal, h.records).Classify(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, bootorigin.PostUpdateReboot, origin)
}

func TestBeginUpdateDetectsBitFlip(t *testing.T) {
	const size = 64 * 1024
	h := newHarness(t, size)
	image := randomImage(t, size)
	srv := newImageServer(t, image, nil)

	h.hal.OnWrite(func(bank core.StorageBank, offset uint64, n int) {
		if offset+uint64(n) == size {
			require.NoError(t, h.hal.FlipBit(bank, 12345, 5))
		}
	})

	o := h.orchestrator()
	err := o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrIntegrityMismatch)
	assert.Equal(t, IntegrityMismatch, KindOf(err))
	assert.Zero(t, h.hal.SetBootCalls())
	assertBootUnchanged(t, h)
}

func TestBeginUpdateHashesWholeBank(t *testing.T) {
	// A short image leaves the tail erased; the digest covers it.
	const size = 16 * 1024
	h := newHarness(t, size)
	image := randomImage(t, 5000)
	srv := newImageServer(t, image, nil)

	padded := append(append([]byte(nil), image...), make([]byte, size-len(image))...)
	for i := len(image); i < size; i++ {
		padded[i] = 0xFF
	}

	err := h.orchestrator().BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	h2 := newHarness(t, size)
	require.NoError(t, h2.orchestrator().BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(padded)}))
}

func TestBeginUpdateRetriesExhausted(t *testing.T) {
	h := newHarness(t, 4096)
	srv := newImageServer(t, nil, func(_ int32, w http.ResponseWriter, _ *http.Request) bool {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return true
	})

	o := h.orchestrator()
	err := o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: strings.Repeat("0", 64)})
	require.ErrorIs(t, err, ErrTransferExhausted)

	s := o.Session()
	assert.Equal(t, uint32(6), s.RetriesUsed)
	assert.EqualValues(t, 6, srv.hits.Load())
	assertPhases(t, []Phase{PhaseIdle, PhaseDownloading, PhaseFailed}, s)
	assert.Equal(t, 1, h.restarter.Calls())
	assert.Zero(t, h.hal.SetBootCalls())
}

func TestBeginUpdateRetryDelayUsesClock(t *testing.T) {
	h := newHarness(t, 4096)
	fake := testingclock.NewFakeClock(time.Now())
	h.clock = fake
	h.cfg.RetryDelay = time.Second
	h.cfg.MaxRetries = 1

	srv := newImageServer(t, nil, func(_ int32, w http.ResponseWriter, _ *http.Request) bool {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return true
	})

	done := make(chan error, 1)
	go func() {
		done <- h.orchestrator().BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: strings.Repeat("0", 64)})
	}()

	require.Eventually(t, fake.HasWaiters, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, srv.hits.Load())
	fake.Step(time.Second)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTransferExhausted)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestBeginUpdateResumesWithRange(t *testing.T) {
	const size = 64 * 1024
	image := randomImage(t, size)

	abortFirst := func(n int32, w http.ResponseWriter, _ *http.Request) bool {
		if n != 1 {
			return false
		}
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(image[:10000])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}

	t.Run("server honours range", func(t *testing.T) {
		h := newHarness(t, size)
		srv := newImageServer(t, image, abortFirst)

		o := h.orchestrator()
		require.NoError(t, o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}))
		assert.Equal(t, []string{"", "bytes=10000-"}, srv.Ranges())
		assert.Equal(t, uint32(1), o.Session().RetriesUsed)
	})

	t.Run("server ignores range", func(t *testing.T) {
		h := newHarness(t, size)
		srv := newImageServer(t, image, func(n int32, w http.ResponseWriter, r *http.Request) bool {
			if n == 1 {
				return abortFirst(n, w, r)
			}
			w.Header().Set("Content-Length", strconv.Itoa(size))
			_, _ = w.Write(image)
			return true
		})

		require.NoError(t, h.orchestrator().BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}))
		assert.Equal(t, 1, h.restarter.Calls())
	})
}

func TestBeginUpdateRetriesChunkedStreamCutShort(t *testing.T) {
	const size = 64 * 1024
	image := randomImage(t, size)

	h := newHarness(t, size)
	srv := newImageServer(t, image, func(n int32, w http.ResponseWriter, _ *http.Request) bool {
		if n != 1 {
			return false
		}
		// No Content-Length: the body is chunked and its end is only
		// known from the terminating chunk, which never comes.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(image[:size/2])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	o := h.orchestrator()
	require.NoError(t, o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}))

	assert.Equal(t, []string{"", fmt.Sprintf("bytes=%d-", size/2)}, srv.Ranges())
	s := o.Session()
	assert.Equal(t, uint32(1), s.RetriesUsed)
	assert.Equal(t, uint64(size), s.BytesTransferred)
	assert.Equal(t, PhaseRebooting, s.Phase)
	assert.Equal(t, 1, h.restarter.Calls())
}

func TestRetryBudgetSpansWholeSession(t *testing.T) {
	const size = 64 * 1024
	const slice = 8 * 1024
	image := randomImage(t, size)

	h := newHarness(t, size)
	h.cfg.MaxRetries = 1
	// Every request delivers one more slice before the connection drops,
	// so each failure follows fresh progress.
	srv := newImageServer(t, image, func(n int32, w http.ResponseWriter, _ *http.Request) bool {
		start := int(n-1) * slice
		if start > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, size-1, size))
			w.Header().Set("Content-Length", strconv.Itoa(size-start))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(size))
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write(image[start : start+slice])
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	})

	o := h.orchestrator()
	err := o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrTransferExhausted)

	s := o.Session()
	assert.Equal(t, uint32(2), s.RetriesUsed)
	assert.Equal(t, uint64(2*slice), s.BytesTransferred)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestBeginUpdateRecoversFromWriteErrors(t *testing.T) {
	const size = 32 * 1024
	h := newHarness(t, size)
	image := randomImage(t, size)
	srv := newImageServer(t, image, nil)
	h.hal.FailNextWrites(2, errors.New("flash busy"))

	o := h.orchestrator()
	require.NoError(t, o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}))
	assert.Equal(t, uint32(2), o.Session().RetriesUsed)
}

func TestBeginUpdateImageTooLarge(t *testing.T) {
	h := newHarness(t, 4096)
	srv := newImageServer(t, randomImage(t, 8192), nil)

	o := h.orchestrator()
	err := o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: strings.Repeat("0", 64)})
	require.ErrorIs(t, err, ErrTransferExhausted)
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Zero(t, o.Session().RetriesUsed)
	assert.Equal(t, 1, h.restarter.Calls())
}

func TestBeginUpdateCommitFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 8192)
	image := randomImage(t, 8192)
	srv := newImageServer(t, image, nil)
	h.hal.FailSetBoot(errors.New("otadata write failed"))

	o := h.orchestrator()
	err := o.BeginUpdate(ctx, Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrCommitFailure)

	assertPhases(t, []Phase{PhaseIdle, PhaseDownloading, PhaseVerifying, PhaseCommittingBoot, PhaseFailed}, o.Session())
	assert.Equal(t, 1, h.restarter.Calls())
	assertBootUnchanged(t, h)

	rec, err := h.records.Read(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.HasPending())
}

func TestBeginUpdatePersistenceFailure(t *testing.T) {
	h := newHarness(t, 8192)
	h.records = failingStore{}
	image := randomImage(t, 8192)
	srv := newImageServer(t, image, nil)

	o := h.orchestrator()
	err := o.BeginUpdate(context.Background(), Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrPersistenceFailure)

	assert.Zero(t, h.hal.SetBootCalls(), "boot target must not be switched without a durable record")
	assert.Equal(t, 1, h.restarter.Calls())
	assertBootUnchanged(t, h)
}

func TestBeginUpdateInvalidRequest(t *testing.T) {
	valid := strings.Repeat("e3", 32)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty locator", Request{ExpectedChecksum: valid}},
		{"no scheme", Request{SourceURL: "x/fw.bin", ExpectedChecksum: valid}},
		{"unsupported scheme", Request{SourceURL: "ftp://x/fw.bin", ExpectedChecksum: valid}},
		{"short checksum", Request{SourceURL: "https://x/fw.bin", ExpectedChecksum: "e3b0c4"}},
		{"non hex checksum", Request{SourceURL: "https://x/fw.bin", ExpectedChecksum: strings.Repeat("zz", 32)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 4096)
			h.hal.OnWrite(func(core.StorageBank, uint64, int) { t.Error("bank written for an invalid request") })

			o := h.orchestrator()
			err := o.BeginUpdate(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)

			assertPhases(t, []Phase{PhaseIdle, PhaseFailed}, o.Session())
			assert.Zero(t, h.restarter.Calls(), "invalid requests do not restart")
			assert.Empty(t, h.sender.Messages(), "invalid requests publish nothing")
		})
	}
}

func TestBeginUpdateCancelled(t *testing.T) {
	const size = 64 * 1024
	h := newHarness(t, size)
	image := randomImage(t, size)
	srv := newImageServer(t, image, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.hal.OnWrite(func(_ core.StorageBank, offset uint64, _ int) {
		if offset == 8192 {
			cancel()
		}
	})

	o := h.orchestrator()
	err := o.BeginUpdate(ctx, Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)})
	require.ErrorIs(t, err, ErrCancelled)

	s := o.Session()
	assert.Equal(t, PhaseFailed, s.Phase)
	assert.Less(t, s.BytesTransferred, uint64(size))
	assert.Zero(t, h.restarter.Calls())
	assert.Zero(t, h.hal.SetBootCalls())
	assertBootUnchanged(t, h)
}

func TestRepeatedCommandRunsFullCycle(t *testing.T) {
	ctx := context.Background()
	const size = 32 * 1024
	h := newHarness(t, size)
	h.restarter.onCall = func() { _ = h.hal.Reboot() }

	image := randomImage(t, size)
	srv := newImageServer(t, image, nil)
	req := Request{SourceURL: srv.Locator(), ExpectedChecksum: digest(image)}
	classifier := bootorigin.NewClassifier(h.hal, h.records)

	var banks []string
	for i := 0; i < 2; i++ {
		o := NewOrchestrator("session-"+strconv.Itoa(i), h.cfg, h.collaborators())
		require.NoError(t, o.BeginUpdate(ctx, req))
		banks = append(banks, o.Session().Bank.Label)

		origin, err := classifier.Classify(ctx)
		require.NoError(t, err)
		assert.Equal(t, bootorigin.PostUpdateReboot, origin)
	}

	assert.Equal(t, []string{"ota_1", "ota_0"}, banks)
	assert.EqualValues(t, 2, srv.hits.Load())
	assert.Equal(t, 2, h.restarter.Calls())
}
