package gc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/staging"
)

type fakeStore struct {
	requests map[string]*request.Request
	deleted  []string
	evicted  []string
}

func newFakeStore(reqs ...request.Request) *fakeStore {
	fs := &fakeStore{requests: map[string]*request.Request{}}
	for i := range reqs {
		r := reqs[i]
		fs.requests[r.ID] = &r
	}
	return fs
}

func (f *fakeStore) Get(_ context.Context, id string) (*request.Request, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, request.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) FindExpired(_ context.Context, cutoff time.Time) ([]request.Request, error) {
	cut := float64(cutoff.UnixNano()) / float64(time.Second)
	var out []request.Request
	for _, r := range f.requests {
		if r.Status.Terminal() && r.LastModified < cut {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	if _, ok := f.requests[id]; !ok {
		return request.ErrNotFound
	}
	delete(f.requests, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) MarkEvicted(_ context.Context, id string) error {
	r, ok := f.requests[id]
	if !ok {
		return request.ErrNotFound
	}
	r.URL = ""
	r.MD5 = ""
	r.ContentLength = 0
	f.evicted = append(f.evicted, id)
	return nil
}

type fakeStaging struct {
	objects   map[string]staging.Object
	deleteErr map[string]error
	deleted   []string
}

func newFakeStaging(objs ...staging.Object) *fakeStaging {
	fs := &fakeStaging{objects: map[string]staging.Object{}, deleteErr: map[string]error{}}
	for _, o := range objs {
		fs.objects[o.RequestID] = o
	}
	return fs
}

func (f *fakeStaging) Delete(_ context.Context, requestID string) error {
	if err := f.deleteErr[requestID]; err != nil {
		return err
	}
	delete(f.objects, requestID)
	f.deleted = append(f.deleted, requestID)
	return nil
}

func (f *fakeStaging) List(_ context.Context) ([]staging.Object, error) {
	var out []staging.Object
	for _, o := range f.objects {
		out = append(out, o)
	}
	return out, nil
}

func terminalRequest(id string, lastModified float64) request.Request {
	r := request.New(request.NewUser("alice", "ldap"), "datasets", request.VerbRetrieve, "q")
	r.ID = id
	r.Status = request.StatusProcessed
	r.URL = "../downloads/" + id
	r.LastModified = lastModified
	return r
}

func newCollector(fs *fakeStore, fst *fakeStaging, cfg Config) *Collector {
	c := New(fs, fst, cfg, zerolog.Nop())
	c.nowFunc = func() time.Time { return time.Unix(10_000, 0) }
	return c
}

func TestSweepExpiredRemovesOldTerminal(t *testing.T) {
	old := terminalRequest("old", 100)
	fresh := terminalRequest("fresh", 9_999)
	active := terminalRequest("active", 100)
	active.Status = request.StatusProcessing

	fs := newFakeStore(old, fresh, active)
	fst := newFakeStaging(staging.Object{RequestID: "old"})
	c := newCollector(fs, fst, Config{Retention: time.Hour})

	if err := c.SweepExpired(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := fs.requests["old"]; ok {
		t.Fatal("expired record must be removed")
	}
	if _, ok := fs.requests["fresh"]; !ok {
		t.Fatal("record inside retention must survive")
	}
	if _, ok := fs.requests["active"]; !ok {
		t.Fatal("non-terminal record must never expire")
	}
	if len(fst.objects) != 0 {
		t.Fatal("expired artifact must be removed")
	}
}

// TestSweepExpiredKeepsRecordWhenArtifactDeleteFails pins the ordering
// invariant: the record is removed only after its artifact.
func TestSweepExpiredKeepsRecordWhenArtifactDeleteFails(t *testing.T) {
	old := terminalRequest("old", 100)
	fs := newFakeStore(old)
	fst := newFakeStaging(staging.Object{RequestID: "old"})
	fst.deleteErr["old"] = errors.New("s3 down")
	c := newCollector(fs, fst, Config{Retention: time.Hour})

	if err := c.SweepExpired(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := fs.requests["old"]; !ok {
		t.Fatal("record must survive until the artifact is gone")
	}
}

func TestSweepDangling(t *testing.T) {
	tracked := terminalRequest("tracked", 9_999)
	fs := newFakeStore(tracked)
	fst := newFakeStaging(
		staging.Object{RequestID: "tracked"},
		staging.Object{RequestID: "orphan"},
	)
	c := newCollector(fs, fst, Config{})

	if err := c.SweepDangling(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := fst.objects["orphan"]; ok {
		t.Fatal("orphaned artifact must be removed")
	}
	if _, ok := fst.objects["tracked"]; !ok {
		t.Fatal("tracked artifact must survive")
	}
}

// TestSweepDanglingRemovesCancelledLeftovers covers a result finishing after
// its revocation: the artifact lands in staging but the record is already
// cancelled, so no download can reach it.
func TestSweepDanglingRemovesCancelledLeftovers(t *testing.T) {
	cancelled := terminalRequest("cancelled", 9_999)
	cancelled.Status = request.StatusCancelled
	fs := newFakeStore(cancelled)
	fst := newFakeStaging(staging.Object{RequestID: "cancelled"})
	c := newCollector(fs, fst, Config{})

	if err := c.SweepDangling(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if _, ok := fst.objects["cancelled"]; ok {
		t.Fatal("artifact of a cancelled request must be removed")
	}
	if _, ok := fs.requests["cancelled"]; !ok {
		t.Fatal("the record itself is the expiry sweep's job, not the dangling sweep's")
	}
}

func TestEvictUnderPressureOldestFirst(t *testing.T) {
	oldest := terminalRequest("oldest", 100)
	middle := terminalRequest("middle", 200)
	newest := terminalRequest("newest", 300)
	fs := newFakeStore(oldest, middle, newest)
	fst := newFakeStaging(
		staging.Object{RequestID: "oldest", Size: 400, LastModified: 100},
		staging.Object{RequestID: "middle", Size: 400, LastModified: 200},
		staging.Object{RequestID: "newest", Size: 400, LastModified: 300},
	)
	// usage 1200, evict until under 600: oldest and middle go
	c := newCollector(fs, fst, Config{HighWatermark: 1000, LowWatermark: 600})

	if err := c.EvictUnderPressure(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok := fst.objects["newest"]; !ok {
		t.Fatal("newest artifact must survive")
	}
	if len(fst.objects) != 1 {
		t.Fatalf("expected 1 surviving object, got %d", len(fst.objects))
	}
	if !fs.requests["oldest"].Evicted() || !fs.requests["middle"].Evicted() {
		t.Fatal("evicted records must be marked")
	}
	if fs.requests["newest"].Evicted() {
		t.Fatal("surviving record must keep its url")
	}
}

func TestEvictUnderPressureSkipsNonTerminal(t *testing.T) {
	running := terminalRequest("running", 100)
	running.Status = request.StatusProcessing
	done := terminalRequest("done", 200)
	fs := newFakeStore(running, done)
	fst := newFakeStaging(
		staging.Object{RequestID: "running", Size: 500, LastModified: 100},
		staging.Object{RequestID: "done", Size: 500, LastModified: 200},
	)
	c := newCollector(fs, fst, Config{HighWatermark: 800, LowWatermark: 600})

	if err := c.EvictUnderPressure(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if _, ok := fst.objects["running"]; !ok {
		t.Fatal("artifact of an in-flight request must never be evicted")
	}
	if _, ok := fst.objects["done"]; ok {
		t.Fatal("terminal artifact should have been evicted")
	}
}

func TestEvictUnderPressureNoopBelowWatermark(t *testing.T) {
	done := terminalRequest("done", 200)
	fs := newFakeStore(done)
	fst := newFakeStaging(staging.Object{RequestID: "done", Size: 100, LastModified: 200})
	c := newCollector(fs, fst, Config{HighWatermark: 1000, LowWatermark: 600})

	if err := c.EvictUnderPressure(context.Background()); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if len(fst.objects) != 1 {
		t.Fatal("nothing may be evicted under the high watermark")
	}
}
