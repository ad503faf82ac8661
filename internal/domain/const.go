package domain

const (
	// Blockchain constants
	ETHEREUM_ZERO_ADDRESS = "0x0000000000000000000000000000000000000000"

	// GLOBAL_CONFIG_ID is the key of the process-wide configuration singleton
	GLOBAL_CONFIG_ID = "global"

	// CONTROLLER_KEY_SUFFIX is appended to a child token id to form its controller key
	CONTROLLER_KEY_SUFFIX = "Controller"
)
