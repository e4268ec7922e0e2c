package library

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoleSatisfies(t *testing.T) {
	tests := []struct {
		have, need Role
		want       bool
	}{
		{RoleAdmin, RoleLibrarian, true},
		{RoleAdmin, RoleMember, true},
		{RoleLibrarian, RoleLibrarian, true},
		{RoleLibrarian, RoleAdmin, false},
		{RoleMember, RoleLibrarian, false},
		{Role(""), RoleMember, false},
		{Role("owner"), RoleMember, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.have)+">="+string(tt.need), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.have.Satisfies(tt.need))
		})
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Librarian ")
	assert.NoError(t, err)
	assert.Equal(t, RoleLibrarian, r)

	_, err = ParseRole("superuser")
	assert.Error(t, err)
}

func TestTransactionFine(t *testing.T) {
	rate := decimal.RequireFromString("0.50")
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	due := issued.AddDate(0, 0, 14)
	tx := Transaction{Type: TransactionIssue, TransactionDate: issued, DueDate: &due}

	assert.False(t, tx.Overdue(due))
	assert.True(t, tx.AccruedFine(due, rate).IsZero())

	partial := due.Add(23 * time.Hour)
	assert.True(t, tx.Overdue(partial), "overdue as soon as the due instant passes")
	assert.EqualValues(t, 0, tx.DaysOverdue(partial))
	assert.True(t, tx.AccruedFine(partial, rate).IsZero(), "only whole days are charged")

	late := due.AddDate(0, 0, 3)
	assert.EqualValues(t, 3, tx.DaysOverdue(late))
	assert.Equal(t, "1.50", tx.AccruedFine(late, rate).StringFixed(2))

	tx.ReturnDate = &late
	tx.Fine = decimal.RequireFromString("1.50")
	muchLater := late.AddDate(1, 0, 0)
	assert.False(t, tx.Active())
	assert.False(t, tx.Overdue(muchLater))
	assert.Equal(t, "1.50", tx.AccruedFine(muchLater, rate).StringFixed(2))
}

func TestTransactionWithoutDueDate(t *testing.T) {
	tx := Transaction{Type: TransactionIssue}
	now := time.Now()
	assert.True(t, tx.Active())
	assert.False(t, tx.Overdue(now))
	assert.EqualValues(t, 0, tx.DaysOverdue(now))
}

func TestPrincipal(t *testing.T) {
	assert.False(t, Principal{}.Authenticated())
	assert.True(t, SystemPrincipal().Authenticated())
	assert.True(t, SystemPrincipal().Role.Satisfies(RoleLibrarian))
	assert.False(t, Principal{UserID: "u", Role: "ghost"}.Authenticated())
}

func TestOptionalTime(t *testing.T) {
	assert.Nil(t, FormatOptionalTime(nil))
	got, err := ParseOptionalTime(nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	empty := ""
	got, err = ParseOptionalTime(&empty)
	assert.NoError(t, err)
	assert.Nil(t, got)

	bad := "2024/01/01"
	_, err = ParseOptionalTime(&bad)
	assert.Error(t, err)

	ts := time.Date(2024, 2, 29, 23, 59, 59, 0, time.FixedZone("X", 3600))
	s := FormatOptionalTime(&ts)
	if assert.NotNil(t, s) {
		assert.Equal(t, "2024-02-29 22:59:59", *s)
	}
}
