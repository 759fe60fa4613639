package errs

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		msg  string
	}{
		{"config", Configf("spline", "need at least %d keyframes, got %d", 2, 1), ErrConfiguration, "spline: configuration error: need at least 2 keyframes, got 1"},
		{"conversion", Conversionf("pose", "zero-norm quaternion"), ErrConversion, "pose: conversion error: zero-norm quaternion"},
		{"format", Formatf("ply", "size mismatch"), ErrFormat, "ply: format error: size mismatch"},
		{"io", IO("write cameras", os.ErrPermission), ErrIO, "write cameras: io error: permission denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf() = %v, want %v", got, tt.kind)
			}
			if got := tt.err.Error(); got != tt.msg {
				t.Errorf("Error() = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestIOKeepsCause(t *testing.T) {
	err := IO("create", os.ErrNotExist)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("IO error lost its cause: %v", err)
	}
	if got := IO("noop", nil); got != nil {
		t.Errorf("IO(nil) = %v, want nil", got)
	}

	// Wrapping twice does not stack kinds.
	if again := IO("outer", err); again != err {
		t.Errorf("IO re-wrapped an IO error: %v", again)
	}
}

func TestWrappedKindSurvivesFmt(t *testing.T) {
	err := fmt.Errorf("export dataset: %w", Formatf("images.bin", "wrote 3 of 4 records"))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("expected ErrFormat through fmt wrapping, got %v", err)
	}
	if errors.Is(err, ErrIO) {
		t.Errorf("format error also matched ErrIO")
	}
	if got := KindOf(errors.New("plain")); got != nil {
		t.Errorf("KindOf(plain) = %v, want nil", got)
	}
}
