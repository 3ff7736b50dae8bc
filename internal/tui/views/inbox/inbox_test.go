package inbox

import (
	"strings"
	"testing"
	"time"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/client"
)

func items(ids ...string) []client.Notification {
	out := make([]client.Notification, len(ids))
	for i, id := range ids {
		out[i] = client.Notification{ID: id, Type: "order", Title: "title " + id, CreatedAt: time.Now()}
	}
	return out
}

func TestNavigationWraps(t *testing.T) {
	m := New()
	m.SetItems(items("c", "b", "a"))

	m.Prev()
	if m.Cursor() != 2 {
		t.Errorf("Prev from top = %d, want 2", m.Cursor())
	}
	m.Next()
	if m.Cursor() != 0 {
		t.Errorf("Next from bottom = %d, want 0", m.Cursor())
	}
}

func TestSetItemsKeepsSelection(t *testing.T) {
	m := New()
	m.SetItems(items("c", "b", "a"))
	m.Next()

	// A new notification arrives on top.
	m.SetItems(items("d", "c", "b", "a"))
	n, ok := m.Selected()
	if !ok || n.ID != "b" {
		t.Errorf("selected = %q, want b", n.ID)
	}

	// The selected one was marked read.
	m.SetItems(items("d", "c", "a"))
	if m.Cursor() != 0 {
		t.Errorf("cursor = %d, want 0 after selection vanished", m.Cursor())
	}
}

func TestSelectedEmpty(t *testing.T) {
	m := New()
	if _, ok := m.Selected(); ok {
		t.Error("empty inbox should have no selection")
	}
	m.Next()
	m.Prev()
}

func TestViewEmpty(t *testing.T) {
	m := New()
	if v := m.View(10); !strings.Contains(v, "Nothing new") {
		t.Error("empty inbox should say 'Nothing new'")
	}
}

func TestViewScrollsToCursor(t *testing.T) {
	m := New()
	m.Width = 100
	m.SetItems(items("a", "b", "c", "d", "e", "f"))
	for i := 0; i < 4; i++ {
		m.Next()
	}

	v := m.View(3)
	if !strings.Contains(v, "title e") {
		t.Error("view should include the selected row")
	}
	if strings.Contains(v, "title a") {
		t.Error("rows above the window should be hidden")
	}
	if !strings.Contains(v, "1 older") {
		t.Error("view should count hidden older rows")
	}
}

func TestAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "now"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{72 * time.Hour, "3d"},
	}
	for _, tt := range tests {
		if got := Age(tt.d); got != tt.want {
			t.Errorf("Age(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
