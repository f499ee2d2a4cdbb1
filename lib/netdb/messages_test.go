package netdb

import (
	"bytes"
	"testing"
)

func TestDatabaseStoreRoundTrip(t *testing.T) {
	ds := &databaseStore{
		EntryType:  storeTypeRouterInfo,
		ReplyToken: 99,
		Data:       bytes.Repeat([]byte("router info bytes "), 30),
	}
	ds.Key = [32]byte{1, 2, 3}
	ds.ReplyGateway = [32]byte{4, 5, 6}
	ds.ReplyTunnel = 7

	buf, err := ds.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := parseDatabaseStore(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Key != ds.Key || parsed.ReplyToken != 99 || parsed.ReplyTunnel != 7 {
		t.Fatalf("header fields did not round-trip")
	}
	if !bytes.Equal(parsed.Data, ds.Data) {
		t.Fatalf("gzip body did not round-trip")
	}
}

func TestDatabaseStoreNoToken(t *testing.T) {
	ds := &databaseStore{EntryType: storeTypeLeaseSet, Data: []byte("lease set")}
	buf, err := ds.serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	parsed, err := parseDatabaseStore(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.ReplyToken != 0 || !bytes.Equal(parsed.Data, ds.Data) {
		t.Fatalf("tokenless store did not round-trip")
	}
}

func TestDatabaseLookupRoundTrip(t *testing.T) {
	dl := &databaseLookup{
		Key:         [32]byte{9},
		From:        [32]byte{8},
		Exploratory: true,
		ReplyTunnel: 321,
		Excluded:    [][32]byte{{1}, {2}},
		Encrypted:   true,
	}
	dl.SessionKey = [32]byte{0xAA}
	dl.SessionTag = [32]byte{0xBB}

	parsed, err := parseDatabaseLookup(dl.serialize())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Exploratory || parsed.ReplyTunnel != 321 || len(parsed.Excluded) != 2 {
		t.Fatalf("lookup fields did not round-trip")
	}
	if parsed.SessionKey != dl.SessionKey || parsed.SessionTag != dl.SessionTag {
		t.Fatalf("garlic reply material did not round-trip")
	}
}

func TestDatabaseSearchReplyRoundTrip(t *testing.T) {
	sr := &databaseSearchReply{
		Key:    [32]byte{1},
		From:   [32]byte{2},
		Hashes: [][32]byte{{3}, {4}, {5}},
	}
	parsed, err := parseDatabaseSearchReply(sr.serialize())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Key != sr.Key || parsed.From != sr.From || len(parsed.Hashes) != 3 {
		t.Fatalf("search reply did not round-trip")
	}
}

func TestBucketNameLowercases(t *testing.T) {
	if bucketName("AbCdEf") != "rab" {
		t.Fatalf("bucket name must lowercase the first two base64 chars")
	}
	if bucketName("~x") != "r~x" {
		t.Fatalf("non-letter base64 chars pass through unchanged")
	}
}
