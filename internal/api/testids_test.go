package api

import "github.com/uncord-chat/uncord-server/internal/snowflake"

var testIDGen = snowflake.NewGenerator(4, 1)

// newTestID returns a fresh snowflake ID for use in test fixtures, playing the role uuid.New() used to.
func newTestID() snowflake.ID {
	return testIDGen.Generate()
}
