package netdb

import (
	"context"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/reactor"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

type sentRecord struct {
	to  [crypto.HashSize]byte
	msg *i2np.Message
}

type fakeSender struct {
	ch chan sentRecord
}

func newFakeSender() *fakeSender {
	return &fakeSender{ch: make(chan sentRecord, 64)}
}

func (f *fakeSender) Send(hash [crypto.HashSize]byte, msgs []*i2np.Message) error {
	for _, m := range msgs {
		f.ch <- sentRecord{to: hash, msg: m}
	}
	return nil
}

func (f *fakeSender) wait(t *testing.T) sentRecord {
	t.Helper()
	select {
	case rec := <-f.ch:
		return rec
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an outbound message")
		return sentRecord{}
	}
}

func newTestDb(t *testing.T) (*NetDb, *fakeSender, func()) {
	t.Helper()
	loop := reactor.New("netdb-test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)

	keys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	db, err := New(loop, keys, nil, t.TempDir(), false, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sender := newFakeSender()
	db.SetSender(sender)
	return db, sender, func() { cancel(); loop.Stop() }
}

func syntheticRouter(t *testing.T, caps string) *routerinfo.RouterInfo {
	t.Helper()
	keys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	ri, err := routerinfo.CreateFor(keys, []routerinfo.Address{{
		Style: routerinfo.StyleStream, Host: "127.0.0.1", Port: 10000,
	}}, caps, uint64(time.Now().UnixMilli()))
	if err != nil {
		t.Fatalf("CreateFor: %v", err)
	}
	return ri
}

func TestLookupAsksClosestFloodfill(t *testing.T) {
	db, sender, stop := newTestDb(t)
	defer stop()

	for i := 0; i < 8; i++ {
		db.AddRouterInfo(syntheticRouter(t, "fOR"))
	}
	for i := 0; i < 12; i++ {
		db.AddRouterInfo(syntheticRouter(t, "LR"))
	}

	target := randomHash(t)
	db.Lookup(target, false, nil)

	rec := sender.wait(t)
	if rec.msg.Type != i2np.TypeDatabaseLookup {
		t.Fatalf("sent type %d, want database-lookup", rec.msg.Type)
	}
	want := db.ClosestFloodfills(target, 1, nil)
	if len(want) != 1 || rec.to != want[0] {
		t.Fatalf("lookup did not go to the XOR-closest flood-fill")
	}
	dl, err := parseDatabaseLookup(rec.msg.Payload)
	if err != nil {
		t.Fatalf("parse sent lookup: %v", err)
	}
	if dl.Key != target {
		t.Fatalf("lookup key mismatch")
	}
}

func TestLookupAnswersFromLocalTable(t *testing.T) {
	db, _, stop := newTestDb(t)
	defer stop()

	ri := syntheticRouter(t, "LR")
	db.AddRouterInfo(ri)

	got := make(chan *routerinfo.RouterInfo, 1)
	db.Lookup(ri.Identity.Hash(), false, func(res *routerinfo.RouterInfo) { got <- res })

	select {
	case res := <-got:
		if res == nil {
			t.Fatalf("expected the locally known router-info")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for local lookup answer")
	}
}

func TestReapFailsWorthlessRequest(t *testing.T) {
	db, _, stop := newTestDb(t)
	defer stop()

	target := randomHash(t)
	got := make(chan *routerinfo.RouterInfo, 1)
	pr := newPendingRequest(target, false, func(res *routerinfo.RouterInfo) { got <- res })
	pr.created = time.Now().Add(-requestLifetime - time.Second)
	db.mu.Lock()
	db.pending[target] = pr
	db.mu.Unlock()

	db.reapPending()

	select {
	case res := <-got:
		if res != nil {
			t.Fatalf("worthless request must complete with nil")
		}
	case <-time.After(time.Second):
		t.Fatal("worthless request was not failed")
	}
	db.mu.Lock()
	_, still := db.pending[target]
	db.mu.Unlock()
	if still {
		t.Fatalf("failed request must be removed from the pending map")
	}
}

func TestHandleLookupAnswersWithStore(t *testing.T) {
	db, sender, stop := newTestDb(t)
	defer stop()

	ri := syntheticRouter(t, "LR")
	db.AddRouterInfo(ri)
	caller := randomHash(t)

	dl := &databaseLookup{Key: ri.Identity.Hash(), From: caller}
	db.HandleMessage(&i2np.Message{Type: i2np.TypeDatabaseLookup, Payload: dl.serialize()})

	rec := sender.wait(t)
	if rec.to != caller {
		t.Fatalf("reply did not go back to the caller")
	}
	if rec.msg.Type != i2np.TypeDatabaseStore {
		t.Fatalf("known key must be answered with a database-store, got type %d", rec.msg.Type)
	}
	ds, err := parseDatabaseStore(rec.msg.Payload)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if _, err := routerinfo.LoadFrom(ds.Data); err != nil {
		t.Fatalf("reply does not carry a loadable router-info: %v", err)
	}
}

func TestHandleLookupUnknownKeyReturnsFloodfills(t *testing.T) {
	db, sender, stop := newTestDb(t)
	defer stop()

	for i := 0; i < 5; i++ {
		db.AddRouterInfo(syntheticRouter(t, "fOR"))
	}
	caller := randomHash(t)
	dl := &databaseLookup{Key: randomHash(t), From: caller}
	db.HandleMessage(&i2np.Message{Type: i2np.TypeDatabaseLookup, Payload: dl.serialize()})

	rec := sender.wait(t)
	if rec.msg.Type != i2np.TypeDatabaseSearchReply {
		t.Fatalf("unknown key must be answered with a search reply")
	}
	sr, err := parseDatabaseSearchReply(rec.msg.Payload)
	if err != nil {
		t.Fatalf("parse search reply: %v", err)
	}
	if len(sr.Hashes) == 0 || len(sr.Hashes) > 3 {
		t.Fatalf("search reply carries %d hashes, want 1..3", len(sr.Hashes))
	}
}

func TestHandleStoreInstallsRouterInfo(t *testing.T) {
	db, _, stop := newTestDb(t)
	defer stop()

	ri := syntheticRouter(t, "LR")
	ds := &databaseStore{Key: ri.Identity.Hash(), EntryType: storeTypeRouterInfo, Data: ri.SaveTo()}
	payload, err := ds.serialize()
	if err != nil {
		t.Fatalf("serialize store: %v", err)
	}
	db.HandleMessage(&i2np.Message{Type: i2np.TypeDatabaseStore, Payload: payload})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if db.RouterInfo(ri.Identity.Hash()) != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("stored router-info never appeared in the table")
}

func TestStaleStoreDoesNotRegress(t *testing.T) {
	db, _, stop := newTestDb(t)
	defer stop()

	keys, err := identity.Generate(crypto.DefaultSignatureType)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	newer, err := routerinfo.CreateFor(keys, nil, "LR", 2000)
	if err != nil {
		t.Fatalf("CreateFor: %v", err)
	}
	older, err := routerinfo.CreateFor(keys, nil, "LR", 1000)
	if err != nil {
		t.Fatalf("CreateFor: %v", err)
	}

	db.AddRouterInfo(newer)
	db.AddRouterInfo(older)
	if got := db.RouterInfo(keys.Identity.Hash()); got.Timestamp != 2000 {
		t.Fatalf("stale record replaced a newer one: timestamp %d", got.Timestamp)
	}
}
