package notes

import (
	"context"
	"strings"
	"testing"
	"time"
)

func fakeReader(t *testing.T, script string, now time.Time) *OSAScriptReader {
	t.Helper()
	return &OSAScriptReader{
		Path: fakeOSAScript(t, script).Path,
		now:  func() time.Time { return now },
	}
}

func TestOSAScriptReaderRead(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	// Folder arguments start at $3; echo the first one back as the folder.
	r := fakeReader(t, `printf 'x-coredata://1\037iCloud\037%s\037[AI] Plan\037<div>a|||b</div>\037-7200\037-60\036' "$3"
printf 'x-coredata://2\037On My Mac\037%s\037Second\037line1\nline2\037-86400\037-3600\036' "$4"
printf 'broken\037record\036'`, now)

	got, err := r.Read(context.Background(), []string{"MCP Inbox", "Work"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("notes = %d, want 2 (malformed record skipped)", len(got))
	}
	first := got[0]
	if first.ID != "x-coredata://1" || first.Account != "iCloud" || first.Folder != "MCP Inbox" || first.Title != "[AI] Plan" {
		t.Errorf("first = %+v", first)
	}
	if first.Body != "<div>a|||b</div>" {
		t.Errorf("body = %q", first.Body)
	}
	if !first.CreatedAt.Equal(now.Add(-2*time.Hour)) || !first.ModifiedAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("dates = %v / %v", first.CreatedAt, first.ModifiedAt)
	}
	if got[1].Folder != "Work" || got[1].Body != "line1\nline2" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestOSAScriptReaderNoFolders(t *testing.T) {
	r := fakeReader(t, `exit 1`, time.Now())
	got, err := r.Read(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("Read = %v, %v", got, err)
	}
}

func TestOSAScriptReaderFailure(t *testing.T) {
	r := fakeReader(t, `echo "Not authorized to send Apple events to Notes." >&2; exit 1`, time.Now())
	_, err := r.Read(context.Background(), []string{"MCP Inbox"})
	if err == nil || !strings.Contains(err.Error(), "Not authorized") {
		t.Errorf("err = %v", err)
	}
}

func TestOSAScriptReaderTimeout(t *testing.T) {
	r := fakeReader(t, `exec sleep 5`, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := r.Read(ctx, []string{"MCP Inbox"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %v", err)
	}
}

func TestTitleTags(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"[WORK] Plan", "WORK"},
		{"[] empty", ""},
		{"no tag", ""},
		{"[unterminated", ""},
		{"x [NOT] prefix", ""},
	}
	for _, tt := range tests {
		got := strings.Join(TitleTags(tt.title), ",")
		if got != tt.want {
			t.Errorf("TitleTags(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}
