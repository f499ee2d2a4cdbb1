package ssu

import (
	"bytes"
	"testing"
	"time"
)

func makeFragments(msgID uint32, data []byte, fragSize int) []fragment {
	total := (len(data) + fragSize - 1) / fragSize
	frags := make([]fragment, 0, total)
	for i := 0; i < total; i++ {
		end := (i + 1) * fragSize
		if end > len(data) {
			end = len(data)
		}
		frags = append(frags, fragment{
			MessageID: msgID,
			Number:    uint8(i),
			IsLast:    i == total-1,
			Data:      data[i*fragSize : end],
		})
	}
	return frags
}

func TestIncompleteMessageInOrder(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 512) // 4096 bytes
	im := newIncompleteMessage(1, len(data))
	for i, f := range makeFragments(1, data, 1369) {
		done, dup := im.accept(f)
		if dup {
			t.Fatalf("fragment %d flagged duplicate", i)
		}
		if done != f.IsLast {
			t.Fatalf("fragment %d: done=%v, want %v", i, done, f.IsLast)
		}
	}
	if !bytes.Equal(im.buf, data) {
		t.Fatalf("reassembled bytes differ from original")
	}
}

func TestIncompleteMessageReordered(t *testing.T) {
	data := bytes.Repeat([]byte{0x5A}, 3000)
	frags := makeFragments(2, data, 700)
	// Deliver last-first, then the rest backwards.
	im := newIncompleteMessage(2, len(data))
	var done bool
	for i := len(frags) - 1; i >= 0; i-- {
		done, _ = im.accept(frags[i])
	}
	if !done {
		t.Fatalf("expected completion after all fragments arrived")
	}
	if !bytes.Equal(im.buf, data) {
		t.Fatalf("reordered reassembly produced different bytes")
	}
}

func TestIncompleteMessageDuplicate(t *testing.T) {
	data := []byte("just one fragment")
	im := newIncompleteMessage(3, len(data))
	frags := makeFragments(3, data, 1369)
	if done, _ := im.accept(frags[0]); !done {
		t.Fatalf("single-fragment message should complete immediately")
	}
	if _, dup := im.accept(frags[0]); !dup {
		t.Fatalf("replayed fragment should be flagged duplicate")
	}
}

func TestIncompleteMessageLossAndResend(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 2000)
	frags := makeFragments(4, data, 700)
	im := newIncompleteMessage(4, len(data))

	// Drop fragment 1 on first delivery.
	im.accept(frags[0])
	done, _ := im.accept(frags[2])
	if done {
		t.Fatalf("message cannot complete with fragment 1 missing")
	}
	// The resend arrives; the saved out-of-order tail drains behind it.
	done, _ = im.accept(frags[1])
	if !done {
		t.Fatalf("resent fragment should complete the message")
	}
	if !bytes.Equal(im.buf, data) {
		t.Fatalf("loss-recovered reassembly produced different bytes")
	}
}

func TestSentMessageBitfieldACK(t *testing.T) {
	sm := &sentMessage{fragments: [][]byte{{1}, {2}, {3}}}
	sm.applyBitfield([]bool{true, false, true})
	if sm.allAcked() {
		t.Fatalf("fragment 1 is still outstanding")
	}
	sm.applyBitfield([]bool{false, true})
	if !sm.allAcked() {
		t.Fatalf("all fragments ACKed, message should be complete")
	}
}

func TestBitfieldEncodeDecode(t *testing.T) {
	for _, n := range []int{1, 6, 7, 8, 14, 20} {
		bits := make([]bool, n)
		for i := range bits {
			bits[i] = i%3 == 0
		}
		decoded, consumed, err := decodeBitfield(encodeBitfield(bits))
		if err != nil {
			t.Fatalf("decodeBitfield(n=%d): %v", n, err)
		}
		if consumed != (n+6)/7 {
			t.Fatalf("n=%d: consumed %d bytes, want %d", n, consumed, (n+6)/7)
		}
		for i := range bits {
			if decoded[i] != bits[i] {
				t.Fatalf("n=%d: bit %d flipped", n, i)
			}
		}
	}
}

func TestIncompleteMessageTimeoutConstant(t *testing.T) {
	if incompleteMessageTimeout != 30*time.Second {
		t.Fatalf("reassembly timeout = %v, want 30s", incompleteMessageTimeout)
	}
}
