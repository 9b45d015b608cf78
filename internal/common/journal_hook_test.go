package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournalKey(t *testing.T) {
	assert.Equal(t, "KERNEL_VERSION", journalKey("kernel_version"))
	assert.Equal(t, "DRIVER_VERSION", journalKey("driver-version"))
	assert.Equal(t, "CHECK", journalKey("_check"))
	assert.Equal(t, "RUN_42", journalKey("run.42"))
}

func TestJournalFields(t *testing.T) {
	fields := journalFields(map[string]interface{}{
		"check":   "kernel_module",
		"passed":  true,
		"retries": 3,
	})
	assert.Equal(t, map[string]string{
		"CHECK":   "kernel_module",
		"PASSED":  "true",
		"RETRIES": "3",
	}, fields)
}
