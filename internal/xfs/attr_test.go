package xfs

import (
	"testing"
)

// encodeShortformAttrs builds a synthetic "local"-format attribute fork, the
// inverse of decodeShortformAttrs.
func encodeShortformAttrs(entries []struct {
	name  string
	value string
	flags uint8
}) []byte {
	buf := make([]byte, attrSfHdrSize)
	buf[2] = byte(len(entries))
	for _, e := range entries {
		buf = append(buf, byte(len(e.name)), byte(len(e.value)), e.flags)
		buf = append(buf, []byte(e.name)...)
		buf = append(buf, []byte(e.value)...)
	}
	return buf
}

func TestDecodeShortformAttrs(t *testing.T) {
	raw := encodeShortformAttrs([]struct {
		name  string
		value string
		flags uint8
	}{
		{name: "foo", value: "bar", flags: 0}, // default namespace: user.
		{name: "sec", value: "baz", flags: attrSecureBit},
		{name: "trust", value: "qux", flags: attrRootBit},
		{name: "gone", value: "xyz", flags: attrIncompleteBit}, // skipped
	})

	got, err := decodeShortformAttrs(raw)
	if err != nil {
		t.Fatalf("decodeShortformAttrs: %v", err)
	}
	want := map[string]string{
		"user.foo":    "bar",
		"secure.sec":  "baz",
		"trusted.trust": "qux",
	}
	if len(got) != len(want) {
		t.Fatalf("decodeShortformAttrs returned %d entries, want %d: %+v", len(got), len(want), got)
	}
	for _, a := range got {
		wantVal, ok := want[a.FullName]
		if !ok {
			t.Errorf("unexpected attribute %q", a.FullName)
			continue
		}
		if string(a.Value) != wantVal {
			t.Errorf("attribute %q value = %q, want %q", a.FullName, a.Value, wantVal)
		}
	}
}

func TestAttrListShortformViaInode(t *testing.T) {
	raw := encodeShortformAttrs([]struct {
		name  string
		value string
		flags uint8
	}{
		{name: "a", value: "1", flags: 0},
	})
	in := &Inode{Ino: 5, Aformat: fmtLocal, Forkoff: 10, literal: append(make([]byte, 80), raw...)}

	got, err := AttrList(nil, nil, in)
	if err != nil {
		t.Fatalf("AttrList: %v", err)
	}
	if len(got) != 1 || got[0].FullName != "user.a" || string(got[0].Value) != "1" {
		t.Errorf("AttrList = %+v, want [{user.a 1}]", got)
	}
}

func TestAttrGetMissing(t *testing.T) {
	raw := encodeShortformAttrs([]struct {
		name  string
		value string
		flags uint8
	}{
		{name: "present", value: "v", flags: 0},
	})
	in := &Inode{Ino: 5, Aformat: fmtLocal, Forkoff: 10, literal: append(make([]byte, 80), raw...)}

	_, ok, err := AttrGet(nil, nil, in, "user.absent")
	if err != nil {
		t.Fatalf("AttrGet: %v", err)
	}
	if ok {
		t.Error("AttrGet(absent) ok = true, want false")
	}

	val, ok, err := AttrGet(nil, nil, in, "user.present")
	if err != nil {
		t.Fatalf("AttrGet: %v", err)
	}
	if !ok || string(val) != "v" {
		t.Errorf("AttrGet(present) = (%q, %v), want (\"v\", true)", val, ok)
	}
}

func TestAttrNoFork(t *testing.T) {
	in := &Inode{Ino: 5, Aformat: fmtDev, Forkoff: 0}
	got, err := AttrList(nil, nil, in)
	if err != nil {
		t.Fatalf("AttrList: %v", err)
	}
	if got != nil {
		t.Errorf("AttrList with no attr fork = %+v, want nil", got)
	}
}

func TestAttrNamespacePrecedence(t *testing.T) {
	// Secure takes precedence over root when (invalidly) both bits are set.
	if got := attrNamespace(attrSecureBit | attrRootBit); got != "secure." {
		t.Errorf("attrNamespace(secure|root) = %q, want \"secure.\"", got)
	}
	if got := attrNamespace(attrRootBit); got != "trusted." {
		t.Errorf("attrNamespace(root) = %q, want \"trusted.\"", got)
	}
	if got := attrNamespace(0); got != "user." {
		t.Errorf("attrNamespace(0) = %q, want \"user.\"", got)
	}
}
