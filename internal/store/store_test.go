package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/strata/internal/doc"
	"github.com/agentic-research/strata/internal/include"
	"github.com/agentic-research/strata/internal/subscribe"
)

func mustUpsert(t *testing.T, s *Store, path string, priority int, json string) {
	t.Helper()
	require.NoError(t, s.Upsert(path, priority, doc.MustParse(json)))
}

func readJSON(t *testing.T, s *Store, path string) string {
	t.Helper()
	n, err := s.Read(path)
	require.NoError(t, err)
	if n == nil {
		return "<absent>"
	}
	return string(doc.Marshal(n, 0))
}

type recorder struct {
	mu     sync.Mutex
	events []subscribe.Event
}

func (r *recorder) handle(ev subscribe.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []subscribe.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]subscribe.Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestReplaceAtPriority(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/x", 0, `{"a":1,"b":2}`)
	mustUpsert(t, s, "/x", 0, `{"a":9}`)
	assert.Equal(t, `{"a":9}`, readJSON(t, s, "/x"))
	assert.Equal(t, 1, s.Stats().Fragments)
}

func TestDeepMergeObjectsReplaceArrays(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/x", 0, `{"obj":{"k1":1},"arr":[1,2]}`)
	mustUpsert(t, s, "/x", 1, `{"obj":{"k2":2},"arr":[9]}`)
	assert.Equal(t, `{"arr":[9],"obj":{"k1":1,"k2":2}}`, readJSON(t, s, "/x"))
}

func TestDescendantFolding(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/a", 0, `{"x":1}`)
	mustUpsert(t, s, "/a/y", 0, `{"z":2}`)
	assert.Equal(t, `{"x":1,"y":{"z":2}}`, readJSON(t, s, "/a"))
	assert.Equal(t, `{"a":{"x":1,"y":{"z":2}}}`, readJSON(t, s, "/"))
}

func TestAbsence(t *testing.T) {
	s := New()
	n, err := s.Read("/never-written")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestInsertionOrderIndependence(t *testing.T) {
	// Same (priority, sequence) relationships reached through different
	// insertion orders across priorities give the same view.
	a := New()
	mustUpsert(t, a, "/x", 0, `{"v":"low","l":1}`)
	mustUpsert(t, a, "/x", 2, `{"v":"high","h":1}`)

	b := New()
	mustUpsert(t, b, "/x", 2, `{"v":"high","h":1}`)
	mustUpsert(t, b, "/x", 0, `{"v":"low","l":1}`)

	assert.Equal(t, readJSON(t, a, "/x"), readJSON(t, b, "/x"))
	assert.Equal(t, `{"h":1,"l":1,"v":"high"}`, readJSON(t, a, "/x"))
}

func TestCacheCoherence(t *testing.T) {
	t.Run("write at path", func(t *testing.T) {
		s := New()
		mustUpsert(t, s, "/p", 0, `{"v":1}`)
		assert.Equal(t, `{"v":1}`, readJSON(t, s, "/p"))

		mustUpsert(t, s, "/p", 1, `{"v":2}`)
		assert.Equal(t, `{"v":2}`, readJSON(t, s, "/p"))
	})

	t.Run("write at descendant", func(t *testing.T) {
		s := New()
		mustUpsert(t, s, "/p", 0, `{"v":1}`)
		assert.Equal(t, `{"v":1}`, readJSON(t, s, "/p"))
		assert.Equal(t, `{"p":{"v":1}}`, readJSON(t, s, "/"))

		mustUpsert(t, s, "/p/q/r", 0, `true`)
		assert.Equal(t, `{"q":{"r":true},"v":1}`, readJSON(t, s, "/p"))
		assert.Equal(t, `{"p":{"q":{"r":true},"v":1}}`, readJSON(t, s, "/"))
	})

	t.Run("cached absence becomes present", func(t *testing.T) {
		s := New()
		assert.Equal(t, "<absent>", readJSON(t, s, "/later"))
		mustUpsert(t, s, "/later/x", 0, `1`)
		assert.Equal(t, `{"x":1}`, readJSON(t, s, "/later"))
	})

	t.Run("remove at descendant", func(t *testing.T) {
		s := New()
		mustUpsert(t, s, "/p", 0, `{"v":1}`)
		mustUpsert(t, s, "/p/w", 0, `2`)
		assert.Equal(t, `{"v":1,"w":2}`, readJSON(t, s, "/p"))

		require.NoError(t, s.Remove("/p/w"))
		assert.Equal(t, `{"v":1}`, readJSON(t, s, "/p"))
	})

	t.Run("write at ancestor keeps descendant view", func(t *testing.T) {
		s := New()
		mustUpsert(t, s, "/p/q", 0, `{"v":1}`)
		assert.Equal(t, `{"v":1}`, readJSON(t, s, "/p/q"))

		mustUpsert(t, s, "/p", 0, `{"q":{"v":5}}`)
		// Only fragments at or below the query path contribute.
		assert.Equal(t, `{"v":1}`, readJSON(t, s, "/p/q"))
		// The later /p fragment overlays the earlier one folded in at q.
		assert.Equal(t, `{"q":{"v":5}}`, readJSON(t, s, "/p"))
	})
}

func TestRemove(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/x", 0, `{"a":1}`)
	mustUpsert(t, s, "/x", 1, `{"b":2}`)

	require.NoError(t, s.RemovePriority("/x", 1))
	assert.Equal(t, `{"a":1}`, readJSON(t, s, "/x"))

	require.NoError(t, s.RemovePriority("/x", 42))
	require.NoError(t, s.Remove("/missing"))

	require.NoError(t, s.Remove("/x"))
	assert.Equal(t, "<absent>", readJSON(t, s, "/x"))
	assert.Zero(t, s.Stats().Fragments)
}

func TestInvalidPaths(t *testing.T) {
	s := New()
	for _, p := range []string{"", "x", "/a//b", "/a/"} {
		assert.True(t, errors.Is(s.Upsert(p, 0, doc.Null{}), ErrInvalidPath), p)
		assert.True(t, errors.Is(s.Remove(p), ErrInvalidPath), p)
		_, err := s.Read(p)
		assert.True(t, errors.Is(err, ErrInvalidPath), p)
		_, err = s.Subscribe(p, func(subscribe.Event) {})
		assert.Error(t, err, p)
	}
	assert.True(t, errors.Is(s.Upsert("/ok", 0, nil), ErrNilPayload))
	assert.Zero(t, s.Stats().Fragments)
}

func TestPayloadIsPrivateCopy(t *testing.T) {
	s := New()
	payload := doc.Object{"k": doc.Object{"v": doc.Number(1)}}
	require.NoError(t, s.Upsert("/x", 0, payload))

	payload["k"].(doc.Object)["v"] = doc.Number(99)
	assert.Equal(t, `{"k":{"v":1}}`, readJSON(t, s, "/x"))
}

func TestSubscriptionDelivery(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))

	var exact, parent, root, sibling recorder
	_, err := s.Subscribe("/a/b", exact.handle)
	require.NoError(t, err)
	_, err = s.Subscribe("/a", parent.handle)
	require.NoError(t, err)
	_, err = s.Subscribe("/", root.handle)
	require.NoError(t, err)
	_, err = s.Subscribe("/a/c", sibling.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/a/b", 0, `{"v":1}`)

	got := exact.all()
	require.Len(t, got, 1)
	assert.Equal(t, "/a/b", got[0].Path)
	assert.Equal(t, subscribe.Added, got[0].Kind)
	assert.Nil(t, got[0].OldValue)
	assert.Equal(t, `{"v":1}`, doc.Format(got[0].NewValue))
	assert.Equal(t, fixed, got[0].Timestamp)

	require.Len(t, parent.all(), 1)
	assert.Equal(t, subscribe.Modified, parent.all()[0].Kind)
	assert.Equal(t, "/a", parent.all()[0].Path)
	assert.Equal(t, `{"b":{"v":1}}`, doc.Format(parent.all()[0].NewValue))

	require.Len(t, root.all(), 1)
	assert.Equal(t, subscribe.Modified, root.all()[0].Kind)
	assert.Equal(t, "/", root.all()[0].Path)

	assert.Empty(t, sibling.all())
}

func TestEventKinds(t *testing.T) {
	s := New()
	var rec recorder
	_, err := s.Subscribe("/x", rec.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/x", 0, `{"a":1}`)
	// Round-trip idempotence: same payload again is Modified with equal values.
	mustUpsert(t, s, "/x", 0, `{"a":1}`)
	require.NoError(t, s.Remove("/x"))
	// Removing nothing produces no event.
	require.NoError(t, s.Remove("/x"))

	got := rec.all()
	require.Len(t, got, 3)
	assert.Equal(t, subscribe.Added, got[0].Kind)
	assert.Equal(t, subscribe.Modified, got[1].Kind)
	assert.True(t, doc.Equal(got[1].OldValue, got[1].NewValue))
	assert.Equal(t, subscribe.Removed, got[2].Kind)
	assert.Nil(t, got[2].NewValue)
	assert.Equal(t, `{"a":1}`, doc.Format(got[2].OldValue))
}

func TestDescendantWriteNotifiesAncestor(t *testing.T) {
	s := New()
	var rec recorder
	_, err := s.Subscribe("/a", rec.handle)
	require.NoError(t, err)

	// A write below /a notifies /a as an ancestor.
	mustUpsert(t, s, "/a/b", 0, `1`)
	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, subscribe.Modified, got[0].Kind)
	assert.Nil(t, got[0].OldValue)
	assert.Equal(t, `{"b":1}`, doc.Format(got[0].NewValue))
}

func TestHandlerPanicDoesNotBreakStore(t *testing.T) {
	s := New()
	var rec recorder
	_, err := s.Subscribe("/x", func(subscribe.Event) { panic("handler bug") })
	require.NoError(t, err)
	_, err = s.Subscribe("/x", rec.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/x", 0, `1`)
	assert.Len(t, rec.all(), 1)
	assert.Equal(t, `1`, readJSON(t, s, "/x"))
}

func TestHandlerMayReenterStore(t *testing.T) {
	s := New()
	var mirrored doc.Node
	_, err := s.Subscribe("/src", func(ev subscribe.Event) {
		// Runs outside the store lock; reads and writes are allowed.
		cur, err := s.Read("/src")
		if err != nil {
			panic(err)
		}
		mirrored = cur
		if err := s.Upsert("/mirror", 0, ev.NewValue); err != nil {
			panic(err)
		}
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, s.Upsert("/src", 0, doc.MustParse(`{"v":1}`)))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reentrant handler deadlocked")
	}
	assert.Equal(t, `{"v":1}`, doc.Format(mirrored))
	assert.Equal(t, `{"v":1}`, readJSON(t, s, "/mirror"))
}

func TestDisposeStopsDelivery(t *testing.T) {
	s := New()
	var rec recorder
	sub, err := s.Subscribe("/x", rec.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/x", 0, `1`)
	sub.Dispose()
	mustUpsert(t, s, "/x", 0, `2`)

	assert.Len(t, rec.all(), 1)
	assert.Zero(t, s.Stats().Subscribers)
}

func newIncludeFS(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fs, name, []byte(content), 0o644))
	}
	return fs
}

func TestUpsertResolvesIncludes(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{
		"physics.json": `{"gravity":-9.8,"substeps":2}`,
		"base.yaml":    "title: from-include\nfps: 30\n",
	})
	s := New(WithLoader(include.NewFSLoader(fs)))

	mustUpsert(t, s, "/project", 0, `{
		"$include": "base.yaml",
		"fps": 60,
		"physics": {"$include": "physics.json", "substeps": 4},
		"missing": {"$include": "nope.json", "kept": true}
	}`)

	// Included content lands at the marker with the same priority and a later
	// sequence, so it wins over sibling keys at the same position.
	assert.Equal(t, `{"$include":"base.yaml","fps":30,"missing":{"$include":"nope.json","kept":true},"physics":{"$include":"physics.json","gravity":-9.8,"substeps":2},"title":"from-include"}`,
		readJSON(t, s, "/project"))
	assert.Equal(t, []string{"/project", "/project/physics"}, s.Paths())

	// A higher priority layer still overrides included data.
	mustUpsert(t, s, "/project/physics", 5, `{"gravity":-1}`)
	assert.Equal(t, `{"gravity":-1,"substeps":2}`, readJSON(t, s, "/project/physics"))
}

func TestIncludedContentIsNotRescanned(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{
		"outer.json": `{"inner":{"$include":"inner.json"}}`,
		"inner.json": `{"x":1}`,
	})
	s := New(WithLoader(include.NewFSLoader(fs)))

	mustUpsert(t, s, "/c", 0, `{"sub":{"$include":"outer.json"}}`)
	assert.Equal(t, `{"sub":{"$include":"outer.json","inner":{"$include":"inner.json"}}}`, readJSON(t, s, "/c"))
}

func TestIncludeEventsForNestedLayers(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{"p.json": `{"g":1}`})
	s := New(WithLoader(include.NewFSLoader(fs)))

	var nested recorder
	_, err := s.Subscribe("/proj/physics", nested.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/proj", 0, `{"physics":{"$include":"p.json"}}`)
	got := nested.all()
	require.Len(t, got, 1)
	assert.Equal(t, subscribe.Added, got[0].Kind)
	assert.Equal(t, `{"g":1}`, doc.Format(got[0].NewValue))
}

func TestCustomIncludeKey(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{"x.json": `{"v":1}`})
	s := New(WithLoader(include.NewFSLoader(fs)), WithIncludeKey("@use"))

	mustUpsert(t, s, "/k", 0, `{"a":{"@use":"x.json"}}`)
	assert.Equal(t, `{"v":1}`, readJSON(t, s, "/k/a"))
	assert.Equal(t, `{"a":{"@use":"x.json","v":1}}`, readJSON(t, s, "/k"))
}

func TestQuery(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/render", 0, `{"targets":[{"name":"main"},{"name":"shadow"}]}`)

	matches, err := s.Query("/render", "$.targets[*].name")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, doc.String("main"), matches[0])
	assert.Equal(t, doc.String("shadow"), matches[1])
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	s := New(WithCacheSize(16))
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				path := fmt.Sprintf("/w%d/k%d", w, i%10)
				_ = s.Upsert(path, i%3, doc.Number(i))
				if i%7 == 0 {
					_ = s.RemovePriority(path, 0)
				}
			}
		}(w)
	}
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = s.Read(fmt.Sprintf("/w%d", r%4))
				_, _ = s.Read("/")
			}
		}(r)
	}
	wg.Wait()

	// Once writers stop, every read must match a fresh merge.
	for w := 0; w < 4; w++ {
		path := fmt.Sprintf("/w%d", w)
		cached, err := s.Read(path)
		require.NoError(t, err)
		fresh := New()
		s.mu.RLock()
		for _, p := range s.fragments.Paths() {
			for _, f := range s.fragments.At(p) {
				_ = fresh.Upsert(f.Path, f.Priority, f.Payload)
			}
		}
		s.mu.RUnlock()
		expected, err := fresh.Read(path)
		require.NoError(t, err)
		assert.True(t, doc.Equal(expected, cached), "stale view at %s", path)
	}
}

func TestCustomDecoder(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{"raw.txt": "ignored"})
	decode := func(name string, data []byte) (doc.Node, error) {
		return doc.Object{"source": doc.String(name), "size": doc.Number(len(data))}, nil
	}
	s := New(WithLoader(include.NewFSLoader(fs)), WithDecoder(decode))

	mustUpsert(t, s, "/d", 0, `{"$include":"raw.txt"}`)
	assert.Equal(t, `{"$include":"raw.txt","size":7,"source":"raw.txt"}`, readJSON(t, s, "/d"))
}

func TestAncestorOldValueComesFromCache(t *testing.T) {
	s := New()
	var rec recorder
	_, err := s.Subscribe("/", rec.handle)
	require.NoError(t, err)

	mustUpsert(t, s, "/a", 0, `1`)
	// The first event's NewValue warms the cache for the next write.
	mustUpsert(t, s, "/a", 0, `2`)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Nil(t, got[0].OldValue)
	assert.Equal(t, `{"a":1}`, doc.Format(got[1].OldValue))
	assert.Equal(t, `{"a":2}`, doc.Format(got[1].NewValue))
}

func TestAncestorOldValueAbsentWhenNotCached(t *testing.T) {
	s := New()
	mustUpsert(t, s, "/a", 0, `1`)

	var rec recorder
	_, err := s.Subscribe("/", rec.handle)
	require.NoError(t, err)

	// Nothing has read "/" yet, so there is no cached old value to report.
	mustUpsert(t, s, "/b", 0, `2`)
	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, subscribe.Modified, got[0].Kind)
	assert.Nil(t, got[0].OldValue)
	assert.Equal(t, `{"a":1,"b":2}`, doc.Format(got[0].NewValue))
}

func TestNestedIncludeOutlivesItsOwner(t *testing.T) {
	fs := newIncludeFS(t, map[string]string{"p.json": `{"g":1}`})
	s := New(WithLoader(include.NewFSLoader(fs)))

	mustUpsert(t, s, "/proj", 0, `{"physics":{"$include":"p.json"}}`)
	require.Equal(t, []string{"/proj", "/proj/physics"}, s.Paths())

	// Re-upserting without the marker leaves the included layer in place.
	mustUpsert(t, s, "/proj", 0, `{"name":"x"}`)
	assert.Equal(t, `{"name":"x","physics":{"g":1}}`, readJSON(t, s, "/proj"))

	// Removing the owner leaves it too; it has to be removed on its own.
	require.NoError(t, s.Remove("/proj"))
	assert.Equal(t, `{"physics":{"g":1}}`, readJSON(t, s, "/proj"))

	require.NoError(t, s.Remove("/proj/physics"))
	assert.Equal(t, "<absent>", readJSON(t, s, "/proj"))
}
