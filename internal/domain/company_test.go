package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCompany(t *testing.T) {
	now := time.Now()
	c := NewCompany("c1", "Acme", now)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, "Acme", c.Name)
	assert.Equal(t, now, c.CreatedAt)
}

func TestValidateCompany(t *testing.T) {
	tests := []struct {
		name    string
		company *Company
		errMsg  string
	}{
		{name: "valid", company: &Company{ID: "c1", Name: "Acme"}},
		{name: "nil", company: nil, errMsg: "company cannot be nil"},
		{name: "missing ID", company: &Company{Name: "Acme"}, errMsg: "company ID is required"},
		{name: "missing name", company: &Company{ID: "c1"}, errMsg: "company Name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCompany(tt.company)
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
