package imapclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitByByteBudgetGroupsWithinBudget(t *testing.T) {
	envelopes := []Envelope{
		{UID: 1, Size: 40},
		{UID: 2, Size: 40},
		{UID: 3, Size: 40},
		{UID: 4, Size: 100},
	}

	batches := splitByByteBudget(envelopes, 100)

	if assert.Len(t, batches, 3) {
		assert.Len(t, batches[0], 2) // UID 1+2 = 80, UID 3 would push to 120
		assert.Len(t, batches[1], 1) // UID 3 alone
		assert.Len(t, batches[2], 1) // UID 4 alone, exactly at budget
	}
}

func TestSplitByByteBudgetSingleOversizeMessageGetsOwnBatch(t *testing.T) {
	envelopes := []Envelope{{UID: 1, Size: 1000}}
	batches := splitByByteBudget(envelopes, 100)
	if assert.Len(t, batches, 1) {
		assert.Len(t, batches[0], 1)
	}
}

func TestSplitByByteBudgetEmptyInput(t *testing.T) {
	assert.Nil(t, splitByByteBudget(nil, 100))
}

func TestMailboxIsTrashByName(t *testing.T) {
	assert.True(t, Mailbox{Name: "[Gmail]/Trash"}.isTrash())
	assert.True(t, Mailbox{Name: "Trash"}.isTrash())
	assert.False(t, Mailbox{Name: "INBOX"}.isTrash())
}

func TestToUIDSetBuildsSetFromUIDs(t *testing.T) {
	set := toUIDSet([]uint32{5, 6, 7})
	assert.NotEmpty(t, set.String())
}
