package constants

const (
	MAX_LINKS_LIMIT     = 500
	DEFAULT_LINKS_LIMIT = 50
	DEFAULT_OFFSET      = 0
)
