package config

// ConnectorType defines how a configured connector is implemented.
type ConnectorType string

const (
	// ConnectorTypeCatalog is the built-in deterministic catalog connector
	ConnectorTypeCatalog ConnectorType = "catalog"
	// ConnectorTypeMCP is a merchant automation exposed as an MCP server
	ConnectorTypeMCP ConnectorType = "mcp"
)

// IsValid checks if the connector type is valid
func (t ConnectorType) IsValid() bool {
	return t == ConnectorTypeCatalog || t == ConnectorTypeMCP
}

// TransportType defines MCP connector transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses streamable HTTP JSON-RPC
	TransportTypeHTTP TransportType = "http"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP
}

// IdempotencyBackend selects where the purchase idempotency index lives.
type IdempotencyBackend string

const (
	// IdempotencyBackendMemory keeps the recent-order index in-process
	IdempotencyBackendMemory IdempotencyBackend = "memory"
	// IdempotencyBackendRedis shares the index through Redis with window TTLs
	IdempotencyBackendRedis IdempotencyBackend = "redis"
)

// IsValid checks if the idempotency backend is valid
func (b IdempotencyBackend) IsValid() bool {
	return b == IdempotencyBackendMemory || b == IdempotencyBackendRedis
}
