package claudecontract

// Control request subtypes. The SDK side sends initialize, interrupt,
// set_permission_mode, set_model and mcp_status; the CLI sends can_use_tool,
// hook_callback and mcp_message.
const (
	ControlSubtypeInitialize        = "initialize"
	ControlSubtypeInterrupt         = "interrupt"
	ControlSubtypeSetPermissionMode = "set_permission_mode"
	ControlSubtypeSetModel          = "set_model"
	ControlSubtypeMCPStatus         = "mcp_status"
	ControlSubtypeCanUseTool        = "can_use_tool"
	ControlSubtypeHookCallback      = "hook_callback"
	ControlSubtypeMCPMessage        = "mcp_message"
)

// Control response subtypes.
const (
	ControlResponseSuccess = "success"
	ControlResponseError   = "error"
)

// JSON-RPC error codes used by in-process MCP servers.
const (
	JSONRPCVersion        = "2.0"
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCInvalidParams  = -32602
	JSONRPCMethodNotFound = -32601
	JSONRPCInternalError  = -32603
)

// MCPProtocolVersion is the MCP protocol revision advertised by in-process servers.
const MCPProtocolVersion = "2024-11-05"
