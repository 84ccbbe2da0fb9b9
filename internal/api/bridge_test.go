package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/markcam/internal/artifacts"
	"github.com/smazurov/markcam/internal/events"
	"github.com/smazurov/markcam/internal/media"
)

func receive[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("no %T received", zero)
			return zero
		}
	}
}

func TestBridgeSessionEvents(t *testing.T) {
	session := newTestSession(t)
	store, err := artifacts.NewStore(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	bus := events.New()
	// One channel per type: the bus does not order deliveries across types.
	captureCh, recordCh, recStateCh, wmCh, stateCh := make(chan any, 8), make(chan any, 8), make(chan any, 8), make(chan any, 8), make(chan any, 8)
	defer events.SubscribeToChannel[events.CaptureEvent](bus, captureCh)()
	defer events.SubscribeToChannel[events.RecordEvent](bus, recordCh)()
	defer events.SubscribeToChannel[events.RecordingStateEvent](bus, recStateCh)()
	defer events.SubscribeToChannel[events.WatermarkErrorEvent](bus, wmCh)()
	defer events.SubscribeToChannel[events.SessionStateEvent](bus, stateCh)()

	unbridge := BridgeSessionEvents(session, store, bus, testLogger())
	defer unbridge()

	startSession(t, session)
	if st := receive[events.SessionStateEvent](t, stateCh); st.SessionID != session.ID() {
		t.Errorf("state event = %+v", st)
	}

	a, err := session.Capture()
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	captured := receive[events.CaptureEvent](t, captureCh)
	if captured.Name != a.Name || captured.URL != "/api/artifacts/"+a.Name || captured.Size != len(a.Data) {
		t.Errorf("capture event = %+v", captured)
	}
	if f, _, err := store.Open(a.Name); err != nil {
		t.Errorf("captured still was not stored: %v", err)
	} else {
		f.Close()
	}

	if err := session.StartRecording(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	clip, err := session.StopRecording(context.Background())
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	recorded := receive[events.RecordEvent](t, recordCh)
	if recorded.Name != clip.Name || recorded.ContentType != media.MimeMJPEG || recorded.URL == "" || recorded.AutoStopped {
		t.Errorf("record event = %+v", recorded)
	}
	if st := receive[events.RecordingStateEvent](t, recStateCh); st.Recording {
		t.Errorf("recording state after finalize = %+v", st)
	}

	bad := media.Watermark{Anchor: media.AnchorTopLeft, Mark: &media.ImageMark{URL: "data:image/png;base64,!!!"}}
	if err := session.UpdateWatermarks(context.Background(), []media.Watermark{bad}); err != nil {
		t.Fatalf("UpdateWatermarks() error = %v", err)
	}
	wmErr := receive[events.WatermarkErrorEvent](t, wmCh)
	if !strings.HasPrefix(wmErr.URL, "data:image/png") || wmErr.Error == "" {
		t.Errorf("watermark error event = %+v", wmErr)
	}

	_ = session.Destroy()
	for {
		if st := receive[events.SessionStateEvent](t, stateCh); st.State == string(media.SessionDestroyed) {
			break
		}
	}
}

func TestTruncateRef(t *testing.T) {
	short := "https://example.com/logo.png"
	if got := truncateRef(short); got != short {
		t.Errorf("truncateRef(short) = %q", got)
	}
	long := "data:image/png;base64," + strings.Repeat("A", 1000)
	got := truncateRef(long)
	if len(got) != maxAssetRefLen+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncateRef(long) length = %d", len(got))
	}
}
