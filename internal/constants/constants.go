package constants

const (
	AppName = "wc-bridge"

	SchemaV1      = 1
	FilePerm      = 0o600
	DirectoryPerm = 0o700

	// Persisted state keys (one JSON file per key under the data directory).
	ConnectedAppsKey      = "connected_apps"
	TransactionHistoryKey = "transaction_history"
	SettingsKey           = "settings"

	MaxTransactionHistory = 100

	// EIP155Namespace is the CAIP-2 namespace of every EVM chain.
	EIP155Namespace = "eip155"

	ZeroAddr = "0x0000000000000000000000000000000000000000"
)
