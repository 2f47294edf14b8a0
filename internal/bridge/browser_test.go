package bridge_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/guru/internal/bridge"
	"github.com/MrWong99/guru/internal/observe"
	"github.com/MrWong99/guru/pkg/audio"
	"github.com/MrWong99/guru/pkg/audio/browser"
	"github.com/MrWong99/guru/pkg/provider/s2s"
	s2smock "github.com/MrWong99/guru/pkg/provider/s2s/mock"
)

// tab stands in for a browser tab: it records device commands and grants
// every microphone request.
type tab struct {
	devices *browser.Devices

	mu   sync.Mutex
	cmds []browser.Command
}

func newTab() *tab {
	tb := &tab{}
	tb.devices = browser.New(browser.SenderFunc(func(_ context.Context, v any) error {
		cmd := v.(browser.Command)
		tb.mu.Lock()
		tb.cmds = append(tb.cmds, cmd)
		tb.mu.Unlock()
		if cmd.Type == browser.TypeMicRequest {
			go tb.devices.HandleMic(browser.MicReply{Granted: true, Rate: 16000, Channels: 1})
		}
		return nil
	}))
	return tb
}

func (tb *tab) find(typ string) (browser.Command, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	for _, c := range tb.cmds {
		if c.Type == typ {
			return c, true
		}
	}
	return browser.Command{}, false
}

func TestEnd_StopsAudioQueuedInTab(t *testing.T) {
	t.Parallel()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	tb := newTab()
	sess := s2smock.NewSession()
	br := bridge.New(&s2smock.Provider{Session: sess}, tb.devices,
		bridge.Config{AssistantName: "Guru"}, bridge.WithMetrics(m))
	t.Cleanup(br.End)

	if err := br.Begin(context.Background(), "en-US"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	sess.Emit(s2s.ServerMessage{Audio: []audio.Blob{chunk(5 * time.Second)}})
	waitFor(t, "play command", func() bool {
		_, ok := tb.find(browser.TypePlay)
		return ok
	})

	br.End()

	play, _ := tb.find(browser.TypePlay)
	stop, ok := tb.find(browser.TypeStop)
	if !ok {
		t.Fatal("End left a 5s unit playing in the tab")
	}
	if stop.ID != play.ID {
		t.Errorf("stop id = %d, want %d", stop.ID, play.ID)
	}
	if _, ok := tb.find(browser.TypeMicStop); !ok {
		t.Error("End did not release the microphone")
	}
}
