package sched

import (
	"context"
	"testing"
	"time"

	"searchwatch/internal/courier"
	"searchwatch/internal/prefs"
	"searchwatch/pkg/logx"
)

func deliveryFixture(t *testing.T, g *fakeGrid, c *testCourier, ps prefs.Store, aligned bool, rec Recurrence) (*deliveryTask, *fakeJob) {
	t.Helper()
	reg := NewRegistry(g, logx.Nop())
	disp := courier.NewDispatcher(courier.NewRegistry(c), 0, logx.Nop())
	task := newDeliveryTask(reg, g, ps, disp, logx.Nop(),
		"ws1", "q1", "ships", "alice", []string{"d1"}, aligned, rec)
	job := &fakeJob{id: "job-7", next: time.Now().Add(time.Minute)}
	task.setJob(job)
	if err := reg.Register(context.Background(), KindDelivery, "q1", job.ID()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return task, job
}

func alicePrefs() prefs.MemStore {
	return prefs.MemStore{"alice": {
		{ID: "d1", CourierType: "test", Parameters: map[string]any{"chatId": float64(1)}},
	}}
}

func seedResults(t *testing.T, g *fakeGrid) {
	t.Helper()
	g.seedCache(t, ResultsCacheName, "q1", resultSet{
		"2026-03-10T12:00:00.000+0000": {{ID: "r1"}},
		"2026-03-10T13:00:00.000+0000": {{ID: "r2"}, {ID: "r3"}},
	})
}

func TestDeliveryTaskDrainsCache(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	seedResults(t, g)
	c := &testCourier{tag: "test"}
	task, _ := deliveryFixture(t, g, c, alicePrefs(), true, activeRecurrence(1))

	task.Run()

	got := c.delivered()
	if len(got) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(got))
	}
	// Entries drain oldest first.
	if got[0].Results[0].ID != "r1" || len(got[1].Results) != 2 {
		t.Fatalf("delivery order/content wrong: %+v", got)
	}
	if got[0].WorkspaceID != "ws1" || got[0].UserID != "alice" || got[0].DestinationID != "d1" {
		t.Fatalf("delivery envelope wrong: %+v", got[0])
	}

	var set resultSet
	if !g.cacheValue(t, ResultsCacheName, "q1", &set) {
		t.Fatal("cache entry vanished entirely")
	}
	if len(set) != 0 {
		t.Fatalf("undrained entries remain: %v", set)
	}
}

func TestDeliveryTaskKeepsEntryOnFailure(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	seedResults(t, g)
	c := &testCourier{tag: "test", fail: true}
	task, _ := deliveryFixture(t, g, c, alicePrefs(), true, activeRecurrence(1))

	task.Run()

	var set resultSet
	if !g.cacheValue(t, ResultsCacheName, "q1", &set) || len(set) != 2 {
		t.Fatalf("failed deliveries must keep their entries, got %v", set)
	}
}

func TestDeliveryTaskAmbiguousDestinationSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		prefs prefs.MemStore
	}{
		{"no match", prefs.MemStore{"alice": {{ID: "other", CourierType: "test"}}}},
		{"duplicate match", prefs.MemStore{"alice": {
			{ID: "d1", CourierType: "test"},
			{ID: "d1", CourierType: "test"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newFakeGrid()
			seedResults(t, g)
			c := &testCourier{tag: "test"}
			task, _ := deliveryFixture(t, g, c, tt.prefs, true, activeRecurrence(1))

			task.Run()

			if len(c.delivered()) != 0 {
				t.Fatal("delivery attempted despite ambiguous destination")
			}
			var set resultSet
			if !g.cacheValue(t, ResultsCacheName, "q1", &set) || len(set) != 2 {
				t.Fatalf("entries deleted without delivery: %v", set)
			}
		})
	}
}

func TestDeliveryTaskAlignedThrottle(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	seedResults(t, g)
	c := &testCourier{tag: "test"}
	task, _ := deliveryFixture(t, g, c, alicePrefs(), true, activeRecurrence(2))

	task.Run() // seeded counter: first tick delivers
	if len(c.delivered()) != 2 {
		t.Fatalf("deliveries = %d, want 2 after first tick", len(c.delivered()))
	}
	seedResults(t, g)
	task.Run() // throttled
	if len(c.delivered()) != 2 {
		t.Fatalf("throttled tick still delivered, got %d", len(c.delivered()))
	}
	task.Run() // every second tick
	if len(c.delivered()) != 4 {
		t.Fatalf("deliveries = %d, want 4", len(c.delivered()))
	}
}

func TestDeliveryTaskDelayedSkipsThrottle(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	seedResults(t, g)
	c := &testCourier{tag: "test"}
	rec := activeRecurrence(5) // amount would throttle in aligned mode
	task, _ := deliveryFixture(t, g, c, alicePrefs(), false, rec)

	task.Run()
	if len(c.delivered()) != 2 {
		t.Fatalf("deliveries = %d, want 2 (delayed mode has no tick throttle)", len(c.delivered()))
	}
	seedResults(t, g)
	task.Run()
	if len(c.delivered()) != 4 {
		t.Fatalf("deliveries = %d, want 4", len(c.delivered()))
	}
}

func TestDeliveryTaskNoCacheIsNoop(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	c := &testCourier{tag: "test"}
	task, job := deliveryFixture(t, g, c, alicePrefs(), true, activeRecurrence(1))

	task.Run()
	if len(c.delivered()) != 0 {
		t.Fatal("delivered from an empty cache")
	}
	if job.isCancelled() {
		t.Fatal("empty cache cancelled the job")
	}
}

func TestDeliveryTaskAfterEndRetires(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	seedResults(t, g)
	c := &testCourier{tag: "test"}
	rec := activeRecurrence(1)
	rec.End = time.Now().Add(-time.Minute)
	task, job := deliveryFixture(t, g, c, alicePrefs(), true, rec)

	task.Run()
	if len(c.delivered()) != 0 {
		t.Fatal("delivered outside the window")
	}
	if !job.isCancelled() {
		t.Fatal("job not cancelled after window end")
	}
}

func TestDeliveryTaskSkipsEmptyEntries(t *testing.T) {
	t.Parallel()

	g := newFakeGrid()
	g.seedCache(t, ResultsCacheName, "q1", resultSet{
		"2026-03-10T12:00:00.000+0000": {},
		"2026-03-10T13:00:00.000+0000": {{ID: "r1"}},
	})
	c := &testCourier{tag: "test"}
	task, _ := deliveryFixture(t, g, c, alicePrefs(), true, activeRecurrence(1))

	task.Run()

	got := c.delivered()
	if len(got) != 1 || got[0].Results[0].ID != "r1" {
		t.Fatalf("deliveries = %+v, want only the non-empty entry", got)
	}
	var set resultSet
	if !g.cacheValue(t, ResultsCacheName, "q1", &set) || len(set) != 0 {
		t.Fatalf("empty entry not pruned: %v", set)
	}
}
