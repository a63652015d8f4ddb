package xfs

import (
	"errors"
	"testing"
)

func TestErrKind(t *testing.T) {
	for _, test := range []struct {
		desc string
		err  error
		want Kind
	}{
		{desc: "not found", err: newErr(KindNotFound, "missing"), want: KindNotFound},
		{desc: "bad image", err: newErr(KindBadImage, "corrupt"), want: KindBadImage},
		{desc: "wrapped", err: wrapErr(KindInvalid, errors.New("boom"), "context"), want: KindInvalid},
		{desc: "plain stdlib error defaults to io", err: errors.New("unclassified"), want: KindIo},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if got := ErrKind(test.err); got != test.want {
				t.Errorf("ErrKind(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(newErr(KindNotFound, "x")) {
		t.Error("IsNotFound(KindNotFound) = false, want true")
	}
	if IsNotFound(newErr(KindBadImage, "x")) {
		t.Error("IsNotFound(KindBadImage) = true, want false")
	}
}

func TestWrapErrNil(t *testing.T) {
	if err := wrapErr(KindIo, nil, "context"); err != nil {
		t.Errorf("wrapErr(nil) = %v, want nil", err)
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{
		KindIo:           "io",
		KindBadImage:     "bad-image",
		KindNotFound:     "not-found",
		KindNotSupported: "not-supported",
		KindInvalid:      "invalid",
		Kind(99):         "unknown",
	} {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
