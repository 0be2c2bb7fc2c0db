package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleMbox = `From alice@example.com Thu Jan  1 10:00:00 2024
From: alice@example.com
To: tickets@example.com
Subject: first
Message-ID: <one@example.com>
Date: Mon, 02 Jan 2006 15:04:05 -0700

hello

From bob@example.com Thu Jan  1 11:00:00 2024
From: bob@example.com
To: tickets@example.com
Subject: second
Message-ID: <two@example.com>

world
`

func writeSampleMbox(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.mbox")
	if err := os.WriteFile(path, []byte(sampleMbox), 0o644); err != nil {
		t.Fatalf("write sample mbox: %v", err)
	}
	return path
}

func TestCountMboxMessages(t *testing.T) {
	count, err := countMboxMessages(writeSampleMbox(t))
	if err != nil {
		t.Fatalf("countMboxMessages() error = %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestStreamMbox_Order(t *testing.T) {
	var ids []string
	err := streamMbox(writeSampleMbox(t), func(idx int, raw []byte) error {
		msg, err := parseImportMessage(raw)
		if err != nil {
			t.Fatalf("message %d: %v", idx, err)
		}
		ids = append(ids, msg.ID)
		return nil
	})
	if err != nil {
		t.Fatalf("streamMbox() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "one@example.com" || ids[1] != "two@example.com" {
		t.Errorf("ids = %v, want mbox order preserved", ids)
	}
}

func TestParseImportMessage(t *testing.T) {
	raw := []byte("From: a@example.com\r\nMessage-ID: <x@example.com>\r\nDate: Mon, 02 Jan 2006 15:04:05 -0700\r\n\r\nbody\r\n")

	msg, err := parseImportMessage(raw)
	if err != nil {
		t.Fatalf("parseImportMessage() error = %v", err)
	}
	if msg.ID != "x@example.com" {
		t.Errorf("ID = %q", msg.ID)
	}
	want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.FixedZone("", -7*60*60))
	if !msg.ReceivedAt.Equal(want) {
		t.Errorf("ReceivedAt = %v, want %v", msg.ReceivedAt, want)
	}
}

func TestParseImportMessage_MissingID(t *testing.T) {
	raw := []byte("From: a@example.com\r\n\r\nbody\r\n")
	if _, err := parseImportMessage(raw); err == nil {
		t.Fatal("parseImportMessage() expected error for missing Message-Id")
	}
}

func TestImportFilter(t *testing.T) {
	tests := []struct {
		name    string
		opts    importOptions
		header  string
		body    string
		want    bool
		wantErr bool
	}{
		{
			name: "no filters pass",
			opts: importOptions{},
			want: true,
		},
		{
			name:   "include header match",
			opts:   importOptions{IncludeHeader: []string{"Subject: first"}},
			header: "Subject: first",
			want:   true,
		},
		{
			name:   "include header miss",
			opts:   importOptions{IncludeHeader: []string{"Subject: first"}},
			header: "Subject: second",
			want:   false,
		},
		{
			name: "exclude body match",
			opts: importOptions{ExcludeBody: []string{"unsubscribe"}},
			body: "click to unsubscribe",
			want: false,
		},
		{
			name:    "include and exclude conflict",
			opts:    importOptions{IncludeHeader: []string{"x"}, ExcludeBody: []string{"y"}},
			wantErr: true,
		},
		{
			name:    "invalid pattern",
			opts:    importOptions{IncludeHeader: []string{"("}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flt, err := newImportFilter(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newImportFilter() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := flt.allows([]byte(tt.header), []byte(tt.body)); got != tt.want {
				t.Errorf("allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSplitRawMessage(t *testing.T) {
	header, body := splitRawMessage([]byte("A: 1\r\nB: 2\r\n\r\npayload"))
	if !strings.Contains(string(header), "B: 2") {
		t.Errorf("header = %q", header)
	}
	if string(body) != "payload" {
		t.Errorf("body = %q", body)
	}
}
