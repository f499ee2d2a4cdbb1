package netdb

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-core/lib/crypto"
	"github.com/go-i2p/go-i2p-core/lib/i2np"
	"github.com/go-i2p/go-i2p-core/lib/identity"
	"github.com/go-i2p/go-i2p-core/lib/reactor"
	"github.com/go-i2p/go-i2p-core/lib/routerinfo"
)

// Maintenance cadence.
const (
	reapInterval    = 15 * time.Second
	saveInterval    = 60 * time.Second
	publishInterval = 20 * time.Minute
	exploreInterval = 30 * time.Second

	// exploreThreshold keeps exploration at full cadence while the
	// router table is still small; above it every third tick suffices.
	exploreThreshold = 2500
)

// floodfillFanout is how many closest flood-fills a store is re-flooded
// to.
const floodfillFanout = 3

// Sender delivers I2NP messages to a remote identity; the peer manager
// satisfies this. Installed after construction to break the
// netdb ↔ peer-manager cycle.
type Sender interface {
	Send(hash [crypto.HashSize]byte, msgs []*i2np.Message) error
}

// NetDb is the network database: router-infos, lease sets, the
// flood-fill subset, and pending lookups. All mutation happens on its
// own reactor; reads from other reactors go through the
// RWMutex.
type NetDb struct {
	loop *reactor.Loop
	log  *logrus.Entry

	ownKeys *identity.PrivateKeys
	ownHash [crypto.HashSize]byte
	ownRI   func() *routerinfo.RouterInfo

	storage  *Storage
	Profiles *ProfileStore

	mu         sync.RWMutex
	routers    map[[crypto.HashSize]byte]*routerinfo.RouterInfo
	leaseSets  map[[crypto.HashSize]byte]*routerinfo.LeaseSet
	floodfills map[[crypto.HashSize]byte]*routerinfo.RouterInfo
	pending    map[[crypto.HashSize]byte]*pendingRequest

	sender      Sender
	floodfill   bool // local router is a flood-fill
	exploreTick int
}

// New builds a NetDb bound to its reactor loop and backed by dataDir.
// ownRI supplies the current self router-info for periodic publication.
func New(loop *reactor.Loop, ownKeys *identity.PrivateKeys, ownRI func() *routerinfo.RouterInfo, dataDir string, floodfill bool, log *logrus.Logger) (*NetDb, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	storage, err := NewStorage(dataDir)
	if err != nil {
		return nil, err
	}
	profiles, err := NewProfileStore(dataDir)
	if err != nil {
		return nil, err
	}
	db := &NetDb{
		loop:       loop,
		log:        log.WithField("component", "netdb"),
		ownKeys:    ownKeys,
		ownHash:    ownKeys.Identity.Hash(),
		ownRI:      ownRI,
		storage:    storage,
		Profiles:   profiles,
		routers:    make(map[[crypto.HashSize]byte]*routerinfo.RouterInfo),
		leaseSets:  make(map[[crypto.HashSize]byte]*routerinfo.LeaseSet),
		floodfills: make(map[[crypto.HashSize]byte]*routerinfo.RouterInfo),
		pending:    make(map[[crypto.HashSize]byte]*pendingRequest),
		floodfill:  floodfill,
	}

	stored, err := storage.LoadAll()
	if err == nil {
		for _, ri := range stored {
			db.install(ri)
		}
	}

	loop.Every(reapInterval, db.reapPending)
	loop.Every(saveInterval, db.saveAndPurge)
	loop.Every(publishInterval, db.publishOwn)
	loop.Every(exploreInterval, db.exploreTickFn)
	return db, nil
}

// SetSender installs the message path toward peers; must be called
// before the node starts serving.
func (db *NetDb) SetSender(s Sender) { db.sender = s }

// install puts a router-info into the maps; caller is on the database
// reactor or still in single-threaded startup.
func (db *NetDb) install(ri *routerinfo.RouterInfo) {
	hash := ri.Identity.Hash()
	db.mu.Lock()
	defer db.mu.Unlock()
	if existing, ok := db.routers[hash]; ok && existing.Timestamp > ri.Timestamp {
		// Timestamps are monotone per identity; a stale record never
		// replaces a newer one.
		return
	}
	db.routers[hash] = ri
	if ri.IsFloodfill() {
		db.floodfills[hash] = ri
	} else {
		delete(db.floodfills, hash)
	}
}

// AddRouterInfo installs (or refreshes) a router-info, marking it dirty
// for the next save pass.
func (db *NetDb) AddRouterInfo(ri *routerinfo.RouterInfo) {
	ri.IsUpdated = true
	db.install(ri)
}

// RouterInfo returns the stored record for hash, nil when unknown.
func (db *NetDb) RouterInfo(hash [crypto.HashSize]byte) *routerinfo.RouterInfo {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.routers[hash]
}

// LeaseSet returns the stored lease set for hash, nil when unknown.
func (db *NetDb) LeaseSet(hash [crypto.HashSize]byte) *routerinfo.LeaseSet {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.leaseSets[hash]
}

// AddLeaseSet installs a lease set if it is currently valid.
func (db *NetDb) AddLeaseSet(ls *routerinfo.LeaseSet) {
	if !ls.IsValid(time.Now()) {
		return
	}
	hash := ls.Identity.Hash()
	db.mu.Lock()
	db.leaseSets[hash] = ls
	db.mu.Unlock()
}

// RouterCount reports how many routers are known.
func (db *NetDb) RouterCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.routers)
}

// floodfillCandidates snapshots the flood-fill set with routing keys for
// one selection pass.
func (db *NetDb) floodfillCandidates(now time.Time) []candidate {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]candidate, 0, len(db.floodfills))
	for hash := range db.floodfills {
		out = append(out, candidate{hash: hash, key: RoutingKey(hash, now)})
	}
	return out
}

// ClosestFloodfills returns up to n flood-fills by XOR distance of
// routing key to the target's routing key, skipping excluded hashes.
func (db *NetDb) ClosestFloodfills(target [crypto.HashSize]byte, n int, excluded map[[crypto.HashSize]byte]bool) [][crypto.HashSize]byte {
	now := time.Now()
	return selectClosest(RoutingKey(target, now), db.floodfillCandidates(now), n, excluded)
}

// closestNonFloodfills serves exploratory lookups: nearby ordinary
// routers.
func (db *NetDb) closestNonFloodfills(target [crypto.HashSize]byte, n int) [][crypto.HashSize]byte {
	now := time.Now()
	db.mu.RLock()
	candidates := make([]candidate, 0, len(db.routers))
	for hash, ri := range db.routers {
		if ri.IsFloodfill() {
			continue
		}
		candidates = append(candidates, candidate{hash: hash, key: RoutingKey(hash, now)})
	}
	db.mu.RUnlock()
	return selectClosest(RoutingKey(target, now), candidates, n, nil)
}

// Lookup satisfies peer.NetDb: resolve hash to a router-info, answering
// from the local table when possible, otherwise opening a pending
// request against the closest flood-fill. onResult runs on the database
// reactor; it receives nil on failure.
func (db *NetDb) Lookup(hash [crypto.HashSize]byte, exploratory bool, onResult func(*routerinfo.RouterInfo)) {
	db.loop.Post(func() {
		if ri := db.RouterInfo(hash); ri != nil && !exploratory {
			if onResult != nil {
				onResult(ri)
			}
			return
		}

		db.mu.Lock()
		if existing, ok := db.pending[hash]; ok {
			// Chain callbacks onto the in-flight request.
			prev := existing.onComplete
			existing.onComplete = func(ri *routerinfo.RouterInfo) {
				if prev != nil {
					prev(ri)
				}
				if onResult != nil {
					onResult(ri)
				}
			}
			db.mu.Unlock()
			return
		}
		pr := newPendingRequest(hash, exploratory, onResult)
		db.pending[hash] = pr
		db.mu.Unlock()

		db.askNextFloodfill(pr)
	})
}

// askNextFloodfill sends a database-lookup for pr's target to the
// closest untried flood-fill.
func (db *NetDb) askNextFloodfill(pr *pendingRequest) {
	targets := db.ClosestFloodfills(pr.target, 1, pr.excluded)
	if len(targets) == 0 || db.sender == nil {
		return
	}
	ff := targets[0]
	pr.recordAttempt(ff, time.Now())

	dl := &databaseLookup{Key: pr.target, From: db.ownHash, Exploratory: pr.exploratory}
	for h := range pr.excluded {
		dl.Excluded = append(dl.Excluded, h)
	}
	msg := &i2np.Message{
		Type:       i2np.TypeDatabaseLookup,
		Expiration: time.Now().Add(requestLifetime),
		Payload:    dl.serialize(),
	}
	if err := db.sender.Send(ff, []*i2np.Message{msg}); err != nil {
		db.log.WithError(err).Debug("lookup send failed")
	}
}

// reapPending retries stalled requests and fails worthless ones.
func (db *NetDb) reapPending() {
	now := time.Now()
	var failed []*pendingRequest
	var retry []*pendingRequest

	db.mu.Lock()
	for hash, pr := range db.pending {
		switch {
		case pr.worthless(now) || (pr.attempts >= requestMaxAttempts && now.Sub(pr.lastAttempt) > requestRetryAfter):
			delete(db.pending, hash)
			failed = append(failed, pr)
		case pr.wantsRetry(now):
			retry = append(retry, pr)
		}
	}
	db.mu.Unlock()

	for _, pr := range failed {
		pr.complete(nil)
	}
	for _, pr := range retry {
		db.askNextFloodfill(pr)
	}
}

// saveAndPurge writes dirty router-infos to disk and evicts expired
// lease sets.
func (db *NetDb) saveAndPurge() {
	now := time.Now()
	db.mu.Lock()
	var dirty []*routerinfo.RouterInfo
	for _, ri := range db.routers {
		if ri.IsUpdated {
			ri.IsUpdated = false
			dirty = append(dirty, ri)
		}
	}
	for hash, ls := range db.leaseSets {
		if !ls.IsValid(now) {
			delete(db.leaseSets, hash)
		}
	}
	db.mu.Unlock()

	for _, ri := range dirty {
		if err := db.storage.Save(ri); err != nil {
			db.log.WithError(err).Warn("router-info save failed")
		}
	}
}

// publishOwn sends a database-store of our router-info to the two
// flood-fills nearest our own routing key.
func (db *NetDb) publishOwn() {
	if db.sender == nil || db.ownRI == nil {
		return
	}
	ri := db.ownRI()
	if ri == nil {
		return
	}
	ds := &databaseStore{Key: db.ownHash, EntryType: storeTypeRouterInfo, Data: ri.SaveTo()}
	payload, err := ds.serialize()
	if err != nil {
		return
	}
	for _, ff := range db.ClosestFloodfills(db.ownHash, 2, map[[crypto.HashSize]byte]bool{db.ownHash: true}) {
		msg := &i2np.Message{
			Type:       i2np.TypeDatabaseStore,
			Expiration: time.Now().Add(time.Minute),
			Payload:    payload,
		}
		_ = db.sender.Send(ff, []*i2np.Message{msg})
	}
}

// exploreTickFn runs discovery at full cadence while the router table is
// small and every third tick once it is comfortably populated.
func (db *NetDb) exploreTickFn() {
	db.exploreTick++
	if db.RouterCount() >= exploreThreshold && db.exploreTick%3 != 0 {
		return
	}
	db.explore()
}

// explore asks a flood-fill for routers near a random point in the
// keyspace.
func (db *NetDb) explore() {
	var target [crypto.HashSize]byte
	if _, err := rand.Read(target[:]); err != nil {
		return
	}
	db.Lookup(target, true, nil)
}

// HandleMessage is the entry point for database-typed I2NP messages from
// the dispatcher; processing hops onto the database reactor.
func (db *NetDb) HandleMessage(msg *i2np.Message) {
	db.loop.Post(func() {
		switch msg.Type {
		case i2np.TypeDatabaseStore:
			db.handleStore(msg)
		case i2np.TypeDatabaseLookup:
			db.handleLookup(msg)
		case i2np.TypeDatabaseSearchReply:
			db.handleSearchReply(msg)
		}
	})
}

func (db *NetDb) handleStore(msg *i2np.Message) {
	ds, err := parseDatabaseStore(msg.Payload)
	if err != nil {
		db.log.WithError(err).Debug("bad database-store")
		return
	}

	// A reply token asks for a delivery-status receipt; the tunnel path
	// (if any) is handled above the transport, so the receipt goes back
	// directly to the gateway hash.
	if ds.ReplyToken != 0 && db.sender != nil {
		status := make([]byte, 12)
		copy(status[0:4], msg.Payload[crypto.HashSize+1:crypto.HashSize+5])
		statusMsg := &i2np.Message{
			Type:       i2np.TypeDeliveryStatus,
			MessageID:  ds.ReplyToken,
			Expiration: time.Now().Add(time.Minute),
			Payload:    status,
		}
		_ = db.sender.Send(ds.ReplyGateway, []*i2np.Message{statusMsg})
	}

	switch ds.EntryType {
	case storeTypeRouterInfo:
		ri, err := routerinfo.LoadFrom(ds.Data)
		if err != nil {
			db.log.WithError(err).Debug("bad router-info in store")
			return
		}
		db.AddRouterInfo(ri)
		db.completePending(ri)
	case storeTypeLeaseSet:
		ls, err := routerinfo.ParseLeaseSet(ds.Data)
		if err != nil {
			db.log.WithError(err).Debug("bad lease-set in store")
			return
		}
		db.AddLeaseSet(ls)
	}

	// Flood-fills redistribute stores to their XOR neighborhood.
	if db.floodfill && db.sender != nil {
		excluded := map[[crypto.HashSize]byte]bool{db.ownHash: true}
		for _, ff := range db.ClosestFloodfills(ds.Key, floodfillFanout, excluded) {
			flood := &i2np.Message{
				Type:       i2np.TypeDatabaseStore,
				Expiration: time.Now().Add(time.Minute),
				Payload:    msg.Payload,
			}
			_ = db.sender.Send(ff, []*i2np.Message{flood})
		}
	}
}

// completePending resolves any pending request the new record answers.
func (db *NetDb) completePending(ri *routerinfo.RouterInfo) {
	hash := ri.Identity.Hash()
	db.mu.Lock()
	pr, ok := db.pending[hash]
	if ok {
		delete(db.pending, hash)
	}
	db.mu.Unlock()
	if ok {
		pr.complete(ri)
	}
}

func (db *NetDb) handleLookup(msg *i2np.Message) {
	dl, err := parseDatabaseLookup(msg.Payload)
	if err != nil || db.sender == nil {
		return
	}
	excluded := make(map[[crypto.HashSize]byte]bool, len(dl.Excluded)+1)
	for _, h := range dl.Excluded {
		excluded[h] = true
	}
	excluded[dl.From] = true

	var reply *i2np.Message
	switch {
	case dl.Exploratory:
		// Exploratory lookups return nearby ordinary routers.
		sr := &databaseSearchReply{Key: dl.Key, From: db.ownHash, Hashes: db.closestNonFloodfills(dl.Key, 3)}
		reply = &i2np.Message{Type: i2np.TypeDatabaseSearchReply, Payload: sr.serialize()}

	default:
		if ri := db.RouterInfo(dl.Key); ri != nil {
			ds := &databaseStore{Key: dl.Key, EntryType: storeTypeRouterInfo, Data: ri.SaveTo()}
			if payload, err := ds.serialize(); err == nil {
				reply = &i2np.Message{Type: i2np.TypeDatabaseStore, Payload: payload}
			}
		} else if ls := db.LeaseSet(dl.Key); ls != nil {
			ds := &databaseStore{Key: dl.Key, EntryType: storeTypeLeaseSet, Data: ls.Bytes()}
			if payload, err := ds.serialize(); err == nil {
				reply = &i2np.Message{Type: i2np.TypeDatabaseStore, Payload: payload}
			}
		}
		if reply == nil {
			sr := &databaseSearchReply{Key: dl.Key, From: db.ownHash, Hashes: db.ClosestFloodfills(dl.Key, 3, excluded)}
			reply = &i2np.Message{Type: i2np.TypeDatabaseSearchReply, Payload: sr.serialize()}
		}
	}
	reply.Expiration = time.Now().Add(time.Minute)
	_ = db.sender.Send(dl.From, []*i2np.Message{reply})
}

func (db *NetDb) handleSearchReply(msg *i2np.Message) {
	sr, err := parseDatabaseSearchReply(msg.Payload)
	if err != nil {
		return
	}

	// The replier did not have the target; mark it tried so the reaper
	// moves on promptly, and chase the closer peers it suggested.
	db.mu.Lock()
	pr := db.pending[sr.Key]
	if pr != nil {
		pr.excluded[sr.From] = true
		pr.lastAttempt = time.Time{} // eligible for immediate retry
	}
	db.mu.Unlock()

	for _, h := range sr.Hashes {
		if db.RouterInfo(h) == nil {
			db.Lookup(h, false, nil)
		}
	}
	if pr != nil {
		db.askNextFloodfill(pr)
	}
}

// Shutdown flushes dirty state: router-infos to the netDb tree, profiles
// to the profile tree.
func (db *NetDb) Shutdown() {
	db.saveAndPurge()
	db.Profiles.SaveAll()
}
