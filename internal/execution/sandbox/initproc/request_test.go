package initproc

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	req := Request{
		Cmd:     []string{"python3", "main.py"},
		Env:     []string{"PATH=/usr/bin", "HOME=/tmp/sb"},
		Rlimits: []Rlimit{{Name: "cpu", Resource: 0, Cur: 5, Max: 6}},
		Seccomp: &SeccompProfile{DefaultAction: "SCMP_ACT_ALLOW", Syscalls: []SeccompRule{{Names: []string{"ptrace"}, Action: "SCMP_ACT_ERRNO"}}},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(req, got) {
		t.Fatalf("mismatch:\nwant %+v\ngot  %+v", req, got)
	}
}

func TestDecodeRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"garbage":      "{",
		"no command":   `{"cmd":[]}`,
		"soft > hard":  `{"cmd":["true"],"rlimits":[{"name":"cpu","cur":5,"max":1}]}`,
		"empty argv 0": `{"cmd":[""]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadSeccompProfile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["ptrace","mount"],"action":"SCMP_ACT_ERRNO"}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadSeccompProfile(good)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Syscalls) != 1 || len(p.Syscalls[0].Names) != 2 {
		t.Fatalf("unexpected profile: %+v", p)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"defaultAction":"SCMP_ACT_TRACE"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSeccompProfile(bad); err == nil {
		t.Fatalf("expected unsupported action to fail")
	}
	if _, err := LoadSeccompProfile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
}
