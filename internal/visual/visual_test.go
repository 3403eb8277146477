package visual_test

import (
	"sync"
	"testing"
	"time"

	"github.com/dreamit/concierge/internal/resort"
	"github.com/dreamit/concierge/internal/visual"
)

var fixed = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestDisplay_ShowAndCurrent(t *testing.T) {
	t.Parallel()

	d := visual.New(visual.WithClock(func() time.Time { return fixed }))
	if d.Current().Visible() {
		t.Fatal("new display should be empty")
	}

	r := resort.Resort{Name: "Zimbali Lodge", Category: resort.CategorySea}
	st := d.Show(r, "zimbally lodge")
	if !st.Visible() || st.Resort.Name != "Zimbali Lodge" || st.Query != "zimbally lodge" {
		t.Errorf("Show() = %+v", st)
	}
	if !st.ShownAt.Equal(fixed) {
		t.Errorf("ShownAt = %v, want %v", st.ShownAt, fixed)
	}
	if st.Version != 1 {
		t.Errorf("Version = %d, want 1", st.Version)
	}
	if got := d.Current(); got != st {
		t.Errorf("Current() = %+v, want %+v", got, st)
	}
}

func TestDisplay_Clear(t *testing.T) {
	t.Parallel()

	d := visual.New()
	var calls int
	d.Subscribe(func(visual.State) { calls++ })

	d.Clear()
	if calls != 0 {
		t.Errorf("Clear on empty display notified %d times", calls)
	}

	d.Show(resort.Resort{Name: "Royal Palm"}, "royal palm")
	d.Clear()
	st := d.Current()
	if st.Visible() {
		t.Error("display still visible after Clear")
	}
	if st.Version != 2 {
		t.Errorf("Version = %d, want 2", st.Version)
	}
	if calls != 2 {
		t.Errorf("subscriber calls = %d, want 2", calls)
	}
}

func TestDisplay_SubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	d := visual.New()
	var got []string
	unsub := d.Subscribe(func(st visual.State) { got = append(got, st.Resort.Name) })

	d.Show(resort.Resort{Name: "Little Eden"}, "")
	unsub()
	unsub()
	d.Show(resort.Resort{Name: "Cayley Lodge"}, "")

	if len(got) != 1 || got[0] != "Little Eden" {
		t.Errorf("notifications = %v, want [Little Eden]", got)
	}
}

func TestDisplay_SubscriberMayReadBack(t *testing.T) {
	t.Parallel()

	d := visual.New()
	done := make(chan visual.State, 1)
	d.Subscribe(func(visual.State) { done <- d.Current() })

	d.Show(resort.Resort{Name: "Tala Collection"}, "")
	select {
	case st := <-done:
		if st.Resort.Name != "Tala Collection" {
			t.Errorf("read back %q", st.Resort.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber deadlocked reading the display")
	}
}

func TestDisplay_ConcurrentShow(t *testing.T) {
	t.Parallel()

	d := visual.New()
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			d.Show(resort.Resort{Name: "Blue Marlin Hotel"}, "")
		})
	}
	wg.Wait()
	if v := d.Current().Version; v != 16 {
		t.Errorf("Version = %d, want 16", v)
	}
}
