package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ixsystems/zlinkd/internal/link"
)

func TestFilteredRowsEmptyQueryReturnsAll(t *testing.T) {
	rows := []linkRow{
		{Link: link.Link{Name: "pair-a", Master: "10.0.0.1"}},
		{Link: link.Link{Name: "pair-b", Master: "10.0.0.2"}},
	}
	out := filteredRows(rows, "")
	assert.Len(t, out, 2)
}

func TestFilteredRowsFuzzyNarrows(t *testing.T) {
	rows := []linkRow{
		{Link: link.Link{Name: "tank-backup", Master: "10.0.0.1"}},
		{Link: link.Link{Name: "scratch-sync", Master: "10.0.0.2"}},
	}
	out := filteredRows(rows, "bkp")
	assert.Len(t, out, 1)
	assert.Equal(t, "tank-backup", out[0][0])
}

func TestFilteredRowsShowsAgeAndMessageWhenPresent(t *testing.T) {
	rows := []linkRow{{
		Link:    link.Link{Name: "pair-c", Master: "10.0.0.1"},
		status:  link.LinkStatus{Status: link.StatusSuccess, Message: "done"},
		at:      time.Now().Add(-time.Minute),
		present: true,
	}}
	out := filteredRows(rows, "")
	assert.Equal(t, string(link.StatusSuccess), out[0][3])
	assert.NotEqual(t, "-", out[0][4])
}

func TestJoinDatasets(t *testing.T) {
	assert.Equal(t, "", joinDatasets(nil))
	assert.Equal(t, "tank/a", joinDatasets([]string{"tank/a"}))
	assert.Equal(t, "tank/a,tank/b", joinDatasets([]string{"tank/a", "tank/b"}))
}
