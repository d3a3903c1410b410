package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPragmas(t *testing.T) {
	assert.Equal(t,
		"chat.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		withPragmas("chat.db"))
	assert.Equal(t,
		"file:chat.db?mode=rwc&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		withPragmas("file:chat.db?mode=rwc"))
}
