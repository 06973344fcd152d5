package taskid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTaskPages(t *testing.T) {
	for _, id := range []string{"abc123", "86a1b2c3d", "x", "abc?view=board"} {
		got := Resolve(TaskPagePrefix + id)
		assert.Equal(t, id, got.TaskID)
		assert.Empty(t, got.Message)
		assert.True(t, got.HasTask())
	}
}

func TestResolveEmptyURLIsPending(t *testing.T) {
	got := Resolve("")
	assert.True(t, got.Pending())
	assert.False(t, got.HasTask())
	assert.Empty(t, got.Message)
}

func TestResolveNonTaskPages(t *testing.T) {
	cases := []string{
		"https://example.com",
		"https://app.clickup.com/t/a/b",
		"https://app.clickup.com/t/",
		"https://app.clickup.com/t/a/t/b",
		"http://app.clickup.com/t/abc",
		"https://app.clickup.com/9012/v/l/abc",
		"chrome://newtab/",
	}
	for _, url := range cases {
		got := Resolve(url)
		assert.Empty(t, got.TaskID, url)
		assert.Contains(t, got.Message, url)
	}
}

func TestResolveMessageMatchesPanelCopy(t *testing.T) {
	got := Resolve("https://example.com")
	assert.Equal(t, Identity{
		Message: "Open ClickUp Tasks Page to Start. Your current tab is https://example.com",
	}, got)
}

func TestResolveIsDeterministic(t *testing.T) {
	for _, url := range []string{"", "https://example.com", TaskPagePrefix + "abc123", TaskPagePrefix + "a/b"} {
		assert.Equal(t, Resolve(url), Resolve(url))
	}
}
