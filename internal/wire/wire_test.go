package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustEncode(t *testing.T, e Entry) []byte {
	t.Helper()
	b, err := EncodeEntry(e)
	if err != nil {
		t.Fatalf("EncodeEntry error: %v", err)
	}
	return b
}

func mustDecode(t *testing.T, b []byte) Entry {
	t.Helper()
	e, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return e
}

func TestEntryRTEmptyAndNonEmpty(t *testing.T) {
	cases := []Entry{
		{Rev: 0},
		{Rev: 42, Payload: []byte("hello"), UpdatedAtNano: 1_700_000_000_000_000_000},
		{Rev: math.MaxUint64, Payload: []byte{0, 1, 2, 3, 4}, UpdatedAtNano: -1},
		{
			Rev: 3, HasPaging: true, TotalItems: 25, TotalPages: 3,
			HasNextPage: true, Payload: []byte(`[{"id":1}]`),
		},
	}
	for _, tc := range cases {
		got := mustDecode(t, mustEncode(t, tc))
		if got.Rev != tc.Rev || got.UpdatedAtNano != tc.UpdatedAtNano {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if got.HasPaging != tc.HasPaging || got.TotalItems != tc.TotalItems ||
			got.TotalPages != tc.TotalPages || got.HasNextPage != tc.HasNextPage ||
			got.HasPreviousPage != tc.HasPreviousPage {
			t.Fatalf("paging mismatch: got %+v want %+v", got, tc)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestPagingFlagsIgnoredWithoutPaging(t *testing.T) {
	got := mustDecode(t, mustEncode(t, Entry{Rev: 1, HasNextPage: true, HasPreviousPage: true}))
	if got.HasPaging || got.HasNextPage || got.HasPreviousPage {
		t.Fatalf("paging flags leaked without HasPaging: %+v", got)
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := mustEncode(t, Entry{Rev: 7, Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD) // add junk
	if _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncode(t, Entry{Rev: 1, Payload: []byte("abc")})

	// bad magic
	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	// wrong version
	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// wrong kind
	badKind := append([]byte(nil), enc...)
	badKind[5] = kindEntry + 1
	if _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// unknown flag bits
	badFlags := append([]byte(nil), enc...)
	badFlags[14] = 0x80
	if _, err := DecodeEntry(badFlags); err == nil {
		t.Fatalf("expected error on unknown flags")
	}

	// vlen too large (announce more than available); vlen sits right before the payload
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[entryHeader-4:entryHeader], uint32(len("abc")+1))
	if _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	// truncated buffer
	if _, err := DecodeEntry(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	// shorter than the header
	if _, err := DecodeEntry(enc[:entryHeader-1]); err == nil {
		t.Fatalf("expected error on short header")
	}
}

func TestEntryZeroCopyPayload(t *testing.T) {
	enc := mustEncode(t, Entry{Rev: 1, Payload: []byte("Z")})
	e := mustDecode(t, enc)
	if len(e.Payload) != 1 {
		t.Fatalf("unexpected payload len")
	}
	// mutate payload slice. should mutate underlying enc bytes (zero-copy)
	e.Payload[0] = 'Q'
	e2 := mustDecode(t, enc)
	if e2.Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
