package utils

import (
	"errors"
	"io"
	"testing"
)

func TestErrorNew(t *testing.T) {
	err := newError("reached limit temperature %d", 123)
	t.Logf("err -> %v", err)
	if !errors.Is(err, Error) {
		t.Error("Oops, err is not utils.Error")
	}
	_, ok := err.(TracedErr)
	if !ok {
		t.Error("Oops, can not cast err to TracedErr")
	}
}

func TestErrorWrap(t *testing.T) {
	err := wrapError(io.EOF, "can not read from %s", "missing.txt")
	t.Logf("err -> %v", err)
	if !errors.Is(err, Error) {
		t.Error("Oops, err is not utils.Error")
	}
	if !errors.Is(err, io.EOF) {
		t.Error("Oops, err is not an io.EOF")
	}
	_, ok := err.(TracedErr)
	if !ok {
		t.Error("Oops, can not cast err to TracedErr")
	}
}

func TestWrapNilCause(t *testing.T) {
	err := wrapError(nil, "shall be dropped")
	if nil != err {
		t.Errorf("failed wrapping nil cause, got %v", err)
	}
}

func TestErrorFileLine(t *testing.T) {
	err := newError("where am I")
	traced, ok := err.(TracedErr)
	if !ok {
		t.Fatal("Oops, can not cast err to TracedErr")
	}
	if "" == traced.Filename || 0 == traced.Line {
		t.Errorf("failed capturing caller, got file %q line %d", traced.Filename, traced.Line)
	}
}
