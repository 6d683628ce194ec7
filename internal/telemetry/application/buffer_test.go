package application

import (
	"fmt"
	"sync"
	"testing"

	telemetry "aquasense-cloud/internal/telemetry/domain"
)

func TestBuffer_EnqueueDrainOrder(t *testing.T) {
	buffer := NewBuffer()
	for i := 0; i < 5; i++ {
		buffer.Enqueue(telemetry.Record{DeviceUID: fmt.Sprintf("buoy-%d", i)})
	}

	drained := buffer.DrainAndSwap()
	if len(drained) != 5 {
		t.Fatalf("expected 5 records, got %d", len(drained))
	}
	for i, record := range drained {
		if record.DeviceUID != fmt.Sprintf("buoy-%d", i) {
			t.Fatalf("order broken at %d: %s", i, record.DeviceUID)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buffer.Len())
	}
}

func TestBuffer_DrainEmpty(t *testing.T) {
	buffer := NewBuffer()
	if drained := buffer.DrainAndSwap(); len(drained) != 0 {
		t.Fatalf("expected empty drain, got %d", len(drained))
	}
}

func TestBuffer_RequeuePrepends(t *testing.T) {
	buffer := NewBuffer()
	buffer.Enqueue(telemetry.Record{DeviceUID: "new-1"})
	buffer.Requeue([]telemetry.Record{{DeviceUID: "old-1"}, {DeviceUID: "old-2"}})

	drained := buffer.DrainAndSwap()
	want := []string{"old-1", "old-2", "new-1"}
	if len(drained) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(drained))
	}
	for i, uid := range want {
		if drained[i].DeviceUID != uid {
			t.Fatalf("position %d: expected %s, got %s", i, uid, drained[i].DeviceUID)
		}
	}
}

func TestBuffer_RequeueEmptyIsNoop(t *testing.T) {
	buffer := NewBuffer()
	buffer.Requeue(nil)
	if buffer.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", buffer.Len())
	}
}

func TestBuffer_NoLossAcrossConcurrentSwap(t *testing.T) {
	const writers = 8
	const perWriter = 500

	buffer := NewBuffer()
	var wg sync.WaitGroup
	done := make(chan struct{})
	drainerDone := make(chan int)

	go func() {
		total := 0
		for {
			select {
			case <-done:
				drainerDone <- total
				return
			default:
				total += len(buffer.DrainAndSwap())
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				buffer.Enqueue(telemetry.Record{DeviceUID: fmt.Sprintf("buoy-%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()
	close(done)
	drainedDuring := <-drainerDone

	remaining := len(buffer.DrainAndSwap())
	if got := drainedDuring + remaining; got != writers*perWriter {
		t.Fatalf("expected %d records total, got %d", writers*perWriter, got)
	}
}
