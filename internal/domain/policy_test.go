package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeny_CarriesReason(t *testing.T) {
	d := Deny("host not in maintenance window")
	assert.False(t, d.Allowed)
	assert.Equal(t, "host not in maintenance window", d.Reason)
}

func TestAllow_IsAllowedWithNoReason(t *testing.T) {
	assert.True(t, Allow.Allowed)
	assert.Empty(t, Allow.Reason)
}
