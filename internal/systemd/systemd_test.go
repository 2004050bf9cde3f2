package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNotifyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := NotifyReady(); err != nil {
		t.Fatalf("NotifyReady: %v", err)
	}
	if err := NotifyStatus("idle"); err != nil {
		t.Fatalf("NotifyStatus: %v", err)
	}
	if err := NotifyStopping(); err != nil {
		t.Fatalf("NotifyStopping: %v", err)
	}
}

func TestMetricsListenerWithoutActivation(t *testing.T) {
	t.Setenv("LISTEN_FDS", "")
	ln, err := MetricsListener()
	if err != nil {
		t.Fatalf("MetricsListener: %v", err)
	}
	if ln != nil {
		t.Fatal("expected no listener outside socket activation")
	}
}

func TestRunWatchdogDisabled(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		RunWatchdog(context.Background(), zerolog.Nop())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when the watchdog is disabled")
	}
}
